// Package discovery finds attachable pages behind the target application's
// remote debug endpoint.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

const listPagesPath = "/json/list"

// Scanner probes a port range for debug endpoints
type Scanner struct {
	host    string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger

	// listURL builds the probe URL for an endpoint
	listURL func(ep models.Endpoint) string
}

// NewScanner creates a scanner for host. Each probe is bounded by timeout.
func NewScanner(host string, timeout time.Duration, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		host:    host,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
		listURL: func(ep models.Endpoint) string {
			return "http://" + ep.Address() + listPagesPath
		},
	}
}

// PortRange returns the inclusive range [from, to]
func PortRange(from, to int) []int {
	if to < from {
		return nil
	}
	ports := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		ports = append(ports, p)
	}
	return ports
}

// Scan probes every port concurrently and returns the ports that answered,
// in ascending port order. Pages lacking a debug socket address are dropped.
func (s *Scanner) Scan(ctx context.Context, ports []int) []models.PortScan {
	var (
		mu      sync.Mutex
		results []models.PortScan
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, port := range ports {
		g.Go(func() error {
			pages, err := s.probe(gctx, models.Endpoint{Host: s.host, Port: port})
			if err != nil {
				// No responder is the common case
				s.logger.Debug("probe failed", zap.Int("port", port), zap.Error(err))
				return nil
			}

			usable := make([]models.Page, 0, len(pages))
			for _, p := range pages {
				if p.Attachable() {
					usable = append(usable, p)
				}
			}

			mu.Lock()
			results = append(results, models.PortScan{Port: port, Pages: usable})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })
	return results
}

// IsAvailable reports whether any port in the range answered
func (s *Scanner) IsAvailable(ctx context.Context, ports []int) bool {
	return len(s.Scan(ctx, ports)) > 0
}

// Pages flattens a scan into attachable pages, de-duplicated by id
func Pages(scans []models.PortScan) []models.Page {
	seen := make(map[string]bool)
	var pages []models.Page
	for _, scan := range scans {
		for _, p := range scan.Pages {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			pages = append(pages, p)
		}
	}
	return pages
}

func (s *Scanner) probe(ctx context.Context, ep models.Endpoint) ([]models.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.listURL(ep), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list pages request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list pages returned status %d", resp.StatusCode)
	}

	var pages []models.Page
	if err := json.NewDecoder(resp.Body).Decode(&pages); err != nil {
		return nil, fmt.Errorf("failed to parse page list: %w", err)
	}
	return pages, nil
}
