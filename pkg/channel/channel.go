package channel

import (
	"context"

	"metricbridge/pkg/bus"
)

// Endpoint is what a transport talks to: a method channel answering calls
// and an event channel with a single replaceable listener.
type Endpoint interface {
	HandleCall(context.Context, bus.MethodCall) bus.MethodResult
	// Listen attaches sink, replacing any previous listener. release
	// detaches it only while it is still the attached listener.
	Listen(sink func(string)) (release func())
	Cancel()
}

// Adapter bridges one external transport (for example HTTP) into the bridge.
type Adapter interface {
	Name() string
	Run(context.Context, Endpoint) error
}
