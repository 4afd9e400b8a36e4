package discovery

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

const documentType = "page"

// internalSchemes are never attached to: extension and devtools internals
var internalSchemes = mustCompile(
	"chrome-extension://*",
	"devtools://*",
	"chrome://*",
	"chrome-untrusted://*",
	"about:*",
)

// internalSubstrings mark internal tooling pages hosted on ordinary schemes
var internalSubstrings = []string{
	"/devtools/",
	"sharedprocess",
	"processexplorer",
	"extensionhost",
	"issuereporter",
}

// hostIdentifiers mark documents that belong to a supported host application
var hostIdentifiers = []string{
	"workbench",
	"cursor",
	"antigravity",
	"jetski",
}

func mustCompile(patterns ...string) []glob.Glob {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		globs = append(globs, glob.MustCompile(p))
	}
	return globs
}

// ShouldAttach decides whether a discovered page is a candidate
func ShouldAttach(page models.Page) bool {
	if page.Type != "" && page.Type != documentType {
		return false
	}
	if page.URL == "" {
		return false
	}

	url := strings.ToLower(page.URL)
	for _, g := range internalSchemes {
		if g.Match(url) {
			return false
		}
	}
	for _, sub := range internalSubstrings {
		if strings.Contains(url, sub) {
			return false
		}
	}

	title := strings.ToLower(page.Title)
	for _, id := range hostIdentifiers {
		if strings.Contains(url, id) || strings.Contains(title, id) {
			return true
		}
	}
	return false
}

// Candidates filters pages through ShouldAttach
func Candidates(pages []models.Page) []models.Page {
	var out []models.Page
	for _, p := range pages {
		if ShouldAttach(p) {
			out = append(out, p)
		}
	}
	return out
}
