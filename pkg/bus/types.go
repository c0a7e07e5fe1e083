package bus

// MethodCall is one named action sent by the host application.
type MethodCall struct {
	ID        string         `json:"id,omitempty"`
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ErrorPayload is the typed failure carried back to the caller.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MethodResult answers exactly one MethodCall. Error is set when the call
// failed, Result otherwise.
type MethodResult struct {
	ID     string        `json:"id,omitempty"`
	Result any           `json:"result,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`
}

// FrameType tags outbound frames on stream transports.
type FrameType string

const (
	FrameResult FrameType = "result"
	FrameEvent  FrameType = "event"
)

// Frame is one outbound unit: either a method result or a pushed event.
type Frame struct {
	Type   FrameType     `json:"type"`
	ID     string        `json:"id,omitempty"`
	Result any           `json:"result,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`
	Event  string        `json:"event,omitempty"`
}

// ResultFrame wraps a method result for a stream transport.
func ResultFrame(result MethodResult) Frame {
	return Frame{Type: FrameResult, ID: result.ID, Result: result.Result, Error: result.Error}
}

// EventFrame wraps a pushed envelope string for a stream transport.
func EventFrame(event string) Frame {
	return Frame{Type: FrameEvent, Event: event}
}
