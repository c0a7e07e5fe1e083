// Package httpapi carries method calls over HTTP and pushed report
// envelopes over a Server-Sent Events stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"metricbridge/pkg/bridge"
	"metricbridge/pkg/bus"
	"metricbridge/pkg/channel"
	"metricbridge/pkg/config"
)

const (
	channelName = "http"

	defaultHost = "127.0.0.1"
	defaultPort = 18791

	CallPath   = "/v1/call"
	EventsPath = "/v1/events"

	maxCallBodyBytes  = 1 << 20
	streamBufferSize  = 16
	keepaliveInterval = 15 * time.Second
)

// Adapter serves the method channel and event stream over HTTP.
type Adapter struct {
	cfg config.HTTPChannelConfig
	log *slog.Logger

	listen func(network, address string) (net.Listener, error)
	ready  chan string
}

func NewAdapter(cfg config.HTTPChannelConfig, log *slog.Logger) (*Adapter, error) {
	if cfg.Port < 0 {
		return nil, errors.New("channels.http.port must not be negative")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:    cfg,
		log:    log.With("component", "channel.http"),
		listen: net.Listen,
		ready:  make(chan string, 1),
	}, nil
}

// Name returns the channel identifier used in status and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Address returns the bound address once the server is listening.
func (a *Adapter) Address(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case addr := <-a.ready:
		a.ready <- addr
		return addr, nil
	}
}

// Run serves until ctx ends.
func (a *Adapter) Run(ctx context.Context, endpoint channel.Endpoint) error {
	if endpoint == nil {
		return errors.New("endpoint is required")
	}

	listener, err := a.listen("tcp", a.bindAddress())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           Handler(endpoint, a.log),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	addr := listener.Addr().String()
	a.ready <- addr
	a.log.Info("HTTP channel started", "address", addr)

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http channel: %w", err)
	}
	return nil
}

func (a *Adapter) bindAddress() string {
	host := strings.TrimSpace(a.cfg.Host)
	if host == "" {
		host = defaultHost
	}

	port := a.cfg.Port
	if port == 0 {
		port = defaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Handler builds the HTTP routes for endpoint.
func Handler(endpoint channel.Endpoint, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	h := &handler{endpoint: endpoint, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc(CallPath, h.handleCall)
	mux.HandleFunc(EventsPath, h.handleEvents)
	return mux
}

type handler struct {
	endpoint channel.Endpoint
	log      *slog.Logger
}

func (h *handler) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var call bus.MethodCall
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBodyBytes))
	if err := decoder.Decode(&call); err != nil {
		http.Error(w, "invalid method call", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(call.Method) == "" {
		http.Error(w, "method is required", http.StatusBadRequest)
		return
	}

	result := h.endpoint.HandleCall(r.Context(), call)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(result.Error))
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.log.Error("Failed to write call response", "method", call.Method, "error", err)
	}
}

func statusFor(payload *bus.ErrorPayload) int {
	if payload == nil {
		return http.StatusOK
	}

	switch payload.Code {
	case bridge.CodeNotImplemented:
		return http.StatusBadRequest
	case bridge.CodeUnsupportedPlatformVersion:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// handleEvents attaches the stream as the bridge listener for as long as the
// client stays connected.
func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := make(chan string, streamBufferSize)
	release := h.endpoint.Listen(func(event string) {
		select {
		case events <- event:
		default:
			h.log.Warn("Dropping event for slow stream client", "remote", r.RemoteAddr)
		}
	})
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": listening\n\n")
	flusher.Flush()

	h.log.Info("Event stream attached", "remote", r.RemoteAddr)
	defer h.log.Info("Event stream detached", "remote", r.RemoteAddr)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event := <-events:
			if _, err := fmt.Fprintf(w, "event: payload\ndata: %s\n\n", event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
