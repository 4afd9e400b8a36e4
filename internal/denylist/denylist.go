// Package denylist decides whether a command must never be run. Patterns are
// literal case-insensitive substrings, or /regex/flags.
package denylist

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// MatchTimeout bounds a single regex evaluation against scraped page text
const MatchTimeout = 50 * time.Millisecond

type rule struct {
	raw     string
	literal string
	re      *regexp2.Regexp
}

// Matcher is a compiled pattern list. It is immutable and safe for concurrent use.
type Matcher struct {
	rules []rule
}

// Compile builds a matcher. It never fails: malformed regexes degrade to
// literal matching of the raw pattern.
func Compile(patterns []string) *Matcher {
	m := &Matcher{rules: make([]rule, 0, len(patterns))}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		r := rule{raw: p, literal: strings.ToLower(p)}
		if body, flags, ok := splitRegex(p); ok {
			if re, err := compileRegex(body, flags); err == nil {
				r.re = re
			}
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// Len returns the number of active patterns
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Patterns returns the raw patterns
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.raw
	}
	return out
}

// Match returns the first pattern that bans text
func (m *Matcher) Match(text string) (string, bool) {
	if m == nil || text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, r := range m.rules {
		if r.re != nil {
			ok, err := r.re.MatchString(text)
			if err != nil || ok {
				// A timed out pattern bans the text
				return r.raw, true
			}
			continue
		}
		if strings.Contains(lower, r.literal) {
			return r.raw, true
		}
	}
	return "", false
}

// IsBanned reports whether text matches any pattern
func IsBanned(text string, patterns []string) bool {
	_, ok := Compile(patterns).Match(text)
	return ok
}

// splitRegex recognizes /body/flags
func splitRegex(p string) (body, flags string, ok bool) {
	if len(p) < 3 || p[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndexByte(p, '/')
	if end <= 0 {
		return "", "", false
	}
	return p[1:end], p[end+1:], true
}

func compileRegex(body, flags string) (*regexp2.Regexp, error) {
	if flags == "" {
		flags = "i"
	}
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			// dotAll
			opts |= regexp2.Singleline
		case 'u':
			opts |= regexp2.Unicode
		case 'g', 'y', 'd':
			// no effect on a boolean test
		default:
			return nil, &flagError{flag: f}
		}
	}
	re, err := regexp2.Compile(body, opts)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = MatchTimeout
	return re, nil
}

type flagError struct {
	flag rune
}

func (e *flagError) Error() string {
	return "unsupported regex flag " + string(e.flag)
}
