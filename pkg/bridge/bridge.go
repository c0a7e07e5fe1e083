// Package bridge relays OS telemetry reports to a host application. Actions
// arrive as method calls and are answered synchronously; report batches
// pushed by the metrics subsystem are wrapped in an envelope and forwarded
// to the single attached listener.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"metricbridge/pkg/bus"
	"metricbridge/pkg/metrickit"
	"metricbridge/pkg/platform"

	"github.com/tidwall/gjson"
)

const (
	ActionStartReceivingReports     = "start_receiving_reports"
	ActionStopReceivingReports      = "stop_receiving_reports"
	ActionGetPastPayloads           = "get_past_payloads"
	ActionGetDiagnosticPastPayloads = "get_diagnostic_past_payloads"
)

var emptyObject = json.RawMessage(`{}`)

// encodeJSON is swapped in tests to exercise the serialization failure path.
var encodeJSON = json.Marshal

// Sink receives one encoded envelope per pushed report batch.
type Sink func(event string)

type listener struct {
	sink Sink
}

// Envelope is the pushed form of one report batch.
type Envelope struct {
	Name     string            `json:"name"`
	Payloads []json.RawMessage `json:"payloads"`
}

// Stats is a point-in-time view of the bridge.
type Stats struct {
	Subscribed         bool   `json:"subscribed"`
	ListenerAttached   bool   `json:"listener_attached"`
	EventsDelivered    uint64 `json:"events_delivered"`
	EventsDropped      uint64 `json:"events_dropped"`
	ReportsSubstituted uint64 `json:"reports_substituted"`
}

type Bridge struct {
	manager metrickit.Manager
	probe   platform.Probe
	log     *slog.Logger

	listener   atomic.Pointer[listener]
	subscribed atomic.Bool

	delivered   atomic.Uint64
	dropped     atomic.Uint64
	substituted atomic.Uint64
}

func New(manager metrickit.Manager, probe platform.Probe, log *slog.Logger) (*Bridge, error) {
	if manager == nil {
		return nil, errors.New("metrics manager is required")
	}
	if probe == nil {
		return nil, errors.New("platform probe is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Bridge{
		manager: manager,
		probe:   probe,
		log:     log.With("component", "bridge"),
	}, nil
}

// Handle dispatches one named action.
func (b *Bridge) Handle(ctx context.Context, call bus.MethodCall) (any, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	switch call.Method {
	case ActionStartReceivingReports:
		return b.Start()
	case ActionStopReceivingReports:
		return b.Stop()
	case ActionGetPastPayloads:
		return b.PastPayloads(metrickit.KindMetric)
	case ActionGetDiagnosticPastPayloads:
		return b.PastPayloads(metrickit.KindDiagnostic)
	default:
		return nil, ErrNotImplemented(call.Method)
	}
}

// Start subscribes the bridge to the metrics subsystem.
func (b *Bridge) Start() (bool, error) {
	if err := b.require(ActionStartReceivingReports, metrickit.MinSubscribeVersion); err != nil {
		return false, err
	}

	b.manager.Add(b)
	b.subscribed.Store(true)
	b.log.Info("Subscribed to metric reports")
	return true, nil
}

// Stop unsubscribes the bridge. Batches the subsystem still pushes
// afterwards are dropped.
func (b *Bridge) Stop() (bool, error) {
	if err := b.require(ActionStopReceivingReports, metrickit.MinSubscribeVersion); err != nil {
		return false, err
	}

	b.manager.Remove(b)
	b.subscribed.Store(false)
	b.log.Info("Unsubscribed from metric reports")
	return true, nil
}

// PastPayloads encodes the subsystem's buffered reports of one kind as a
// JSON array. A report without valid JSON becomes {} at its index.
func (b *Bridge) PastPayloads(kind metrickit.PayloadKind) (string, error) {
	action := ActionGetPastPayloads
	if kind == metrickit.KindDiagnostic {
		action = ActionGetDiagnosticPastPayloads
	}
	if !kind.Valid() {
		return "", ErrNotImplemented(string(kind))
	}
	if err := b.require(action, kind.MinVersion()); err != nil {
		return "", err
	}

	var reports []metrickit.Report
	if kind == metrickit.KindDiagnostic {
		reports = b.manager.PastDiagnosticPayloads()
	} else {
		reports = b.manager.PastPayloads()
	}

	payloads := make([]json.RawMessage, len(reports))
	for i, report := range reports {
		raw, err := reportJSON(report)
		if err != nil {
			b.substituted.Add(1)
			b.log.Warn("Substituting empty object for unreadable report", "kind", kind, "index", i, "error", err)
			raw = emptyObject
		}
		payloads[i] = raw
	}

	data, err := encodeJSON(payloads)
	if err != nil {
		return "", ErrSerialization(err)
	}

	return string(data), nil
}

// Listen attaches sink as the listener, replacing any previous one. The
// returned release detaches it only while it is still the current listener.
func (b *Bridge) Listen(sink Sink) (release func()) {
	if sink == nil {
		b.Cancel()
		return func() {}
	}

	l := &listener{sink: sink}
	b.listener.Store(l)
	b.log.Debug("Listener attached")

	return func() {
		if b.listener.CompareAndSwap(l, nil) {
			b.log.Debug("Listener released")
		}
	}
}

// Cancel detaches whichever listener is attached.
func (b *Bridge) Cancel() {
	b.listener.Store(nil)
	b.log.Debug("Listener detached")
}

func (b *Bridge) Subscribed() bool {
	return b.subscribed.Load()
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Subscribed:         b.subscribed.Load(),
		ListenerAttached:   b.listener.Load() != nil,
		EventsDelivered:    b.delivered.Load(),
		EventsDropped:      b.dropped.Load(),
		ReportsSubstituted: b.substituted.Load(),
	}
}

func (b *Bridge) DidReceiveMetricPayloads(reports []metrickit.Report) {
	b.push(metrickit.KindMetric, reports)
}

func (b *Bridge) DidReceiveDiagnosticPayloads(reports []metrickit.Report) {
	b.push(metrickit.KindDiagnostic, reports)
}

func (b *Bridge) push(kind metrickit.PayloadKind, reports []metrickit.Report) {
	if !b.subscribed.Load() {
		b.dropped.Add(1)
		b.log.Debug("Dropping report batch while unsubscribed", "kind", kind, "reports", len(reports))
		return
	}

	l := b.listener.Load()
	if l == nil {
		b.dropped.Add(1)
		b.log.Debug("Dropping report batch without listener", "kind", kind, "reports", len(reports))
		return
	}

	event, err := encodeEnvelope(kind, reports)
	if err != nil {
		b.dropped.Add(1)
		b.log.Warn("Dropping report batch that failed to encode", "kind", kind, "reports", len(reports), "error", err)
		return
	}

	l.sink(event)
	b.delivered.Add(1)
}

func encodeEnvelope(kind metrickit.PayloadKind, reports []metrickit.Report) (string, error) {
	envelope := Envelope{
		Name:     kind.EnvelopeName(),
		Payloads: make([]json.RawMessage, 0, len(reports)),
	}

	for i, report := range reports {
		raw, err := reportJSON(report)
		if err != nil {
			return "", fmt.Errorf("report %d: %w", i, err)
		}
		envelope.Payloads = append(envelope.Payloads, raw)
	}

	data, err := encodeJSON(envelope)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	return string(data), nil
}

// reportJSON returns a report's JSON in compact form. The report must be a
// UTF-8 JSON object that encoding/json can re-encode.
func reportJSON(report metrickit.Report) (json.RawMessage, error) {
	if report == nil {
		return nil, errors.New("report is nil")
	}

	raw, err := report.JSONRepresentation()
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		return nil, errors.New("report JSON is not valid UTF-8")
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("report JSON is malformed")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, errors.New("report JSON is not an object")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("report JSON is not encodable: %w", err)
	}

	return json.RawMessage(compact.Bytes()), nil
}

func (b *Bridge) require(action string, min platform.Version) error {
	if platform.Supports(b.probe, min) {
		return nil
	}

	running := platform.Version{}
	if b.probe != nil {
		running = b.probe.OSVersion()
	}
	return ErrUnsupported(action, min, running)
}
