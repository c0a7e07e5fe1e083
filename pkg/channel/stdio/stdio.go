// Package stdio carries method calls and pushed events as JSON lines, for
// hosts that embed the bridge as a child process.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"metricbridge/pkg/bus"
	"metricbridge/pkg/channel"
)

const (
	channelName = "stdio"

	// MethodListen and MethodCancel drive the event channel.
	MethodListen = "listen"
	MethodCancel = "cancel"

	codeInvalidRequest = "invalid_request"

	maxLineBytes = 1 << 20
)

// Adapter reads one MethodCall per input line and writes one Frame per
// output line.
type Adapter struct {
	in  io.Reader
	out io.Writer
	log *slog.Logger
}

func NewAdapter(in io.Reader, out io.Writer, log *slog.Logger) (*Adapter, error) {
	if in == nil || out == nil {
		return nil, errors.New("input and output are required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{in: in, out: out, log: log.With("component", "channel.stdio")}, nil
}

// Name returns the channel identifier used in status and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run serves until the input ends or ctx is canceled. Results of calls read
// before the input ended are written before Run returns.
func (a *Adapter) Run(ctx context.Context, endpoint channel.Endpoint) error {
	if endpoint == nil {
		return errors.New("endpoint is required")
	}

	mb := bus.NewMessageBus()
	s := &session{endpoint: endpoint, bus: mb, log: a.log}
	defer s.releaseListener()

	writeErr := make(chan error, 1)
	go func() { writeErr <- a.writeFrames(mb) }()

	var inflight sync.WaitGroup
	readErr := make(chan error, 1)
	go func() { readErr <- a.readCalls(ctx, mb, &inflight) }()

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	go func() {
		for {
			call, ok := mb.ConsumeInbound(dispatchCtx)
			if !ok {
				return
			}
			s.dispatch(dispatchCtx, call)
			inflight.Done()
		}
	}()

	a.log.Info("Stdio channel started")

	var err error
	select {
	case <-ctx.Done():
	case err = <-readErr:
		inflight.Wait()
	case err = <-writeErr:
		mb.Close()
		return err
	}

	mb.Close()
	if werr := <-writeErr; err == nil {
		err = werr
	}
	return err
}

func (a *Adapter) readCalls(ctx context.Context, mb *bus.MessageBus, inflight *sync.WaitGroup) error {
	reader := bufio.NewReaderSize(a.in, 64*1024)

	for {
		raw, tooLong, err := readLine(reader, maxLineBytes)
		if tooLong {
			a.log.Warn("Rejecting oversized call line", "limit_bytes", maxLineBytes)
			mb.PublishOutbound(ctx, invalidRequest("", fmt.Sprintf("line exceeds %d bytes", maxLineBytes)))
		} else if line := strings.TrimSpace(string(raw)); line != "" {
			var call bus.MethodCall
			if jsonErr := json.Unmarshal([]byte(line), &call); jsonErr != nil || strings.TrimSpace(call.Method) == "" {
				a.log.Warn("Rejecting malformed call line", "error", jsonErr)
				mb.PublishOutbound(ctx, invalidRequest(call.ID, "each line must be a JSON method call"))
			} else {
				inflight.Add(1)
				if !mb.PublishInbound(ctx, call) {
					inflight.Done()
					return nil
				}
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read calls: %w", err)
		}
	}
}

// readLine returns the next newline-terminated line without the newline.
// A line longer than limit is consumed in full and reported as tooLong.
func readLine(reader *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, readErr := reader.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return nil, true, readErr
		}
		return bytes.TrimSuffix(line, []byte("\n")), false, readErr
	}
}

func invalidRequest(id string, details string) bus.Frame {
	return bus.ResultFrame(bus.MethodResult{
		ID:    id,
		Error: &bus.ErrorPayload{Code: codeInvalidRequest, Message: "Invalid request", Details: details},
	})
}

func (a *Adapter) writeFrames(mb *bus.MessageBus) error {
	writer := bufio.NewWriter(a.out)
	encoder := json.NewEncoder(writer)
	encoder.SetEscapeHTML(false)

	write := func(frame bus.Frame) error {
		if err := encoder.Encode(frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		return writer.Flush()
	}

	for {
		frame, ok := mb.SubscribeOutbound(context.Background())
		if !ok {
			for _, pending := range mb.DrainOutbound() {
				if err := write(pending); err != nil {
					return err
				}
			}
			return nil
		}
		if err := write(frame); err != nil {
			return err
		}
	}
}

// session holds the per-run listener registration.
type session struct {
	endpoint channel.Endpoint
	bus      *bus.MessageBus
	log      *slog.Logger

	mu      sync.Mutex
	release func()
}

func (s *session) dispatch(ctx context.Context, call bus.MethodCall) {
	var result bus.MethodResult
	switch call.Method {
	case MethodListen:
		s.listen()
		result = bus.MethodResult{ID: call.ID, Result: true}
	case MethodCancel:
		s.cancel()
		result = bus.MethodResult{ID: call.ID, Result: true}
	default:
		result = s.endpoint.HandleCall(ctx, call)
	}

	s.bus.PublishOutbound(ctx, bus.ResultFrame(result))
}

func (s *session) listen() {
	release := s.endpoint.Listen(func(event string) {
		if !s.bus.TryPublishOutbound(bus.EventFrame(event)) {
			s.log.Warn("Dropping event, output queue full or closed")
		}
	})

	s.mu.Lock()
	s.release = release
	s.mu.Unlock()
}

func (s *session) cancel() {
	s.endpoint.Cancel()

	s.mu.Lock()
	s.release = nil
	s.mu.Unlock()
}

func (s *session) releaseListener() {
	s.mu.Lock()
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
}
