// Package replay is a metrics subsystem backed by report fixtures on disk.
// It stands in for the platform framework on hosts that do not have one.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"metricbridge/pkg/metrickit"
	"metricbridge/pkg/platform"

	"github.com/tidwall/jsonc"
)

const (
	metricsDir     = "metrics"
	diagnosticsDir = "diagnostics"
)

// Manager implements metrickit.Manager over a fixture directory:
//
//	<dir>/metrics/*.json
//	<dir>/diagnostics/*.json
//
// Each file holds one report. Comments are allowed.
type Manager struct {
	probe platform.Probe
	log   *slog.Logger

	mu          sync.RWMutex
	subscribers []metrickit.Subscriber
	metrics     []metrickit.Report
	diagnostics []metrickit.Report
}

// New loads the fixtures under dir. An empty dir yields a manager with no
// buffered reports.
func New(dir string, probe platform.Probe, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		probe: probe,
		log:   log.With("component", "metrickit.replay"),
	}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return m, nil
	}

	root, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open replay directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("replay path is not a directory: %s", dir)
	}

	if m.metrics, err = loadReports(root, filepath.Join(root, metricsDir)); err != nil {
		return nil, err
	}
	if m.diagnostics, err = loadReports(root, filepath.Join(root, diagnosticsDir)); err != nil {
		return nil, err
	}

	m.log.Info("Replay fixtures loaded", "dir", dir, "metrics", len(m.metrics), "diagnostics", len(m.diagnostics))
	return m, nil
}

// NewWithReports builds a manager over in-memory reports.
func NewWithReports(probe platform.Probe, metrics []metrickit.Report, diagnostics []metrickit.Report, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		probe:       probe,
		log:         log.With("component", "metrickit.replay"),
		metrics:     metrics,
		diagnostics: diagnostics,
	}
}

// loadReports reads every .json file in dir. Files that cannot be read, or
// that resolve outside root, become reports without a JSON representation.
func loadReports(root string, dir string) ([]metrickit.Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read fixture directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	reports := make([]metrickit.Report, 0, len(names))
	for _, name := range names {
		path, err := containedPath(root, filepath.Join(dir, name))
		if err != nil {
			reports = append(reports, metrickit.FailedReport{Err: err})
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			reports = append(reports, metrickit.FailedReport{Err: fmt.Errorf("read %s: %w", name, err)})
			continue
		}
		reports = append(reports, metrickit.RawReport(jsonc.ToJSON(content)))
	}

	return reports, nil
}

// Add registers s. Adding the same subscriber twice has no further effect.
func (m *Manager) Add(s metrickit.Subscriber) {
	if s == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subscribers {
		if existing == s {
			return
		}
	}
	m.subscribers = append(m.subscribers, s)
}

func (m *Manager) Remove(s metrickit.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.subscribers {
		if existing == s {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

func (m *Manager) PastPayloads() []metrickit.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]metrickit.Report(nil), m.metrics...)
}

func (m *Manager) PastDiagnosticPayloads() []metrickit.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]metrickit.Report(nil), m.diagnostics...)
}

// Subscribers returns how many subscribers are registered.
func (m *Manager) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Deliver pushes the buffered reports of kind to every subscriber and
// returns how many were notified. Empty buffers and diagnostics on OS
// versions that lack them deliver nothing.
func (m *Manager) Deliver(kind metrickit.PayloadKind) int {
	if !platform.Supports(m.probe, kind.MinVersion()) {
		return 0
	}

	m.mu.RLock()
	subscribers := append([]metrickit.Subscriber(nil), m.subscribers...)
	var reports []metrickit.Report
	if kind == metrickit.KindDiagnostic {
		reports = append(reports, m.diagnostics...)
	} else {
		reports = append(reports, m.metrics...)
	}
	m.mu.RUnlock()

	if len(reports) == 0 {
		return 0
	}

	for _, s := range subscribers {
		if kind == metrickit.KindDiagnostic {
			s.DidReceiveDiagnosticPayloads(reports)
		} else {
			s.DidReceiveMetricPayloads(reports)
		}
	}

	if len(subscribers) > 0 {
		m.log.Debug("Delivered replay batch", "kind", kind, "reports", len(reports), "subscribers", len(subscribers))
	}
	return len(subscribers)
}

// Run delivers both kinds every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("replay interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Deliver(metrickit.KindMetric)
			m.Deliver(metrickit.KindDiagnostic)
		}
	}
}
