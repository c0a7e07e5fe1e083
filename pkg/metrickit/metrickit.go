// Package metrickit describes the OS metrics subsystem the bridge subscribes
// to. The subsystem itself is provided by the platform; this package only
// names the calls the bridge makes against it.
package metrickit

import (
	"errors"

	"metricbridge/pkg/platform"
)

// PayloadKind distinguishes metric reports from diagnostic reports.
type PayloadKind string

const (
	KindMetric     PayloadKind = "metric"
	KindDiagnostic PayloadKind = "diagnostic"
)

var (
	// MinSubscribeVersion gates subscription and metric payload access.
	MinSubscribeVersion = platform.Version{Major: 13}
	// MinDiagnosticVersion gates diagnostic payload access.
	MinDiagnosticVersion = platform.Version{Major: 14}
)

// EnvelopeName is the tag carried by pushed envelopes of this kind.
func (k PayloadKind) EnvelopeName() string {
	switch k {
	case KindDiagnostic:
		return "MXDiagnosticPayload"
	default:
		return "MXMetricPayload"
	}
}

// MinVersion returns the first OS version that exposes payloads of this kind.
func (k PayloadKind) MinVersion() platform.Version {
	if k == KindDiagnostic {
		return MinDiagnosticVersion
	}
	return MinSubscribeVersion
}

func (k PayloadKind) Valid() bool {
	return k == KindMetric || k == KindDiagnostic
}

// Report is one observation period's telemetry.
type Report interface {
	JSONRepresentation() ([]byte, error)
}

// Subscriber receives report batches as the subsystem produces them. Calls
// may arrive on any goroutine.
type Subscriber interface {
	DidReceiveMetricPayloads([]Report)
	DidReceiveDiagnosticPayloads([]Report)
}

// Manager is the process-wide metrics subsystem.
type Manager interface {
	Add(Subscriber)
	Remove(Subscriber)
	PastPayloads() []Report
	PastDiagnosticPayloads() []Report
}

// RawReport is a report whose JSON form is already known.
type RawReport []byte

func (r RawReport) JSONRepresentation() ([]byte, error) {
	if r == nil {
		return nil, errors.New("report has no JSON representation")
	}
	return []byte(r), nil
}

// FailedReport is a report whose JSON form could not be produced.
type FailedReport struct {
	Err error
}

func (r FailedReport) JSONRepresentation() ([]byte, error) {
	if r.Err == nil {
		return nil, errors.New("report has no JSON representation")
	}
	return nil, r.Err
}
