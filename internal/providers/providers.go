// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package providers probes configured upstream service endpoints and joins
// the results against the node list.
package providers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/llw2011/oc-monitor/internal/aggregator"
	"github.com/llw2011/oc-monitor/internal/config"
	"github.com/llw2011/oc-monitor/internal/logging"
)

// Probe is one endpoint's health sample.
type Probe struct {
	Healthy   bool   `json:"healthy"`
	LatencyMS *int64 `json:"latency_ms"`
	Status    *int   `json:"status"`
}

// ProviderCell is a probe result attributed to one provider column.
type ProviderCell struct {
	Provider  string `json:"provider"`
	Healthy   bool   `json:"healthy"`
	LatencyMS *int64 `json:"latency_ms"`
}

// NodeRow is the provider availability matrix for one node.
type NodeRow struct {
	AgentID   string         `json:"agent_id"`
	Name      string         `json:"name"`
	Online    bool           `json:"online"`
	Providers []ProviderCell `json:"providers"`
}

// Service probes provider endpoints. Target order is the configured order
// and is stable across calls so dashboard columns do not jump around.
type Service struct {
	targets []config.ProviderTarget
	timeout time.Duration
	client  *http.Client
	logger  *logging.Logger
}

// New creates a provider probing service.
func New(targets []config.ProviderTarget, timeout time.Duration, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default().WithComponent("providers")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{
		targets: targets,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Names returns the configured provider names in order.
func (s *Service) Names() []string {
	names := make([]string, len(s.targets))
	for i, t := range s.targets {
		names[i] = t.Name
	}
	return names
}

// ProbeAll checks every target concurrently and returns results by name.
// A failed or timed-out probe reads as unhealthy with no latency.
func (s *Service) ProbeAll(ctx context.Context) map[string]Probe {
	out := make(map[string]Probe, len(s.targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, target := range s.targets {
		wg.Add(1)
		go func(t config.ProviderTarget) {
			defer wg.Done()
			p := s.probe(ctx, t)
			mu.Lock()
			out[t.Name] = p
			mu.Unlock()
		}(target)
	}
	wg.Wait()
	return out
}

func (s *Service) probe(ctx context.Context, t config.ProviderTarget) Probe {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return Probe{}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("provider probe failed", "provider", t.Name, "error", err)
		return Probe{}
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()
	status := resp.StatusCode
	return Probe{
		Healthy:   resp.StatusCode >= 200 && resp.StatusCode < 400,
		LatencyMS: &latency,
		Status:    &status,
	}
}

// Matrix probes all targets once and expands the results per node. Offline
// nodes render every provider unhealthy: reachability of the endpoint says
// nothing about a host that is not reporting.
func (s *Service) Matrix(ctx context.Context, nodes []aggregator.NodeView) []NodeRow {
	probes := s.ProbeAll(ctx)

	rows := make([]NodeRow, 0, len(nodes))
	for _, n := range nodes {
		row := NodeRow{
			AgentID:   n.AgentID,
			Name:      n.Name,
			Online:    n.Online,
			Providers: make([]ProviderCell, 0, len(s.targets)),
		}
		for _, t := range s.targets {
			p := probes[t.Name]
			cell := ProviderCell{Provider: t.Name}
			if n.Online {
				cell.Healthy = p.Healthy
				cell.LatencyMS = p.LatencyMS
			}
			row.Providers = append(row.Providers, cell)
		}
		rows = append(rows, row)
	}
	return rows
}
