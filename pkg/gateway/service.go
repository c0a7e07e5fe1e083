package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"metricbridge/pkg/bridge"
	"metricbridge/pkg/bus"
	"metricbridge/pkg/channel"
	"metricbridge/pkg/config"
	"metricbridge/pkg/metrickit"
	"metricbridge/pkg/platform"

	"github.com/google/uuid"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
)

// replayer is implemented by metrics subsystems that push on a timer.
type replayer interface {
	Run(ctx context.Context, interval time.Duration) error
}

// Service owns the bridge and exposes it through the configured channels.
type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	manager  metrickit.Manager
	probe    platform.Probe
	bridge   *bridge.Bridge
	channels []channel.Adapter

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	OSVersion     string                  `json:"os_version"`
	Bridge        bridge.Stats            `json:"bridge"`
	Channels      map[string]channelState `json:"channels"`
}

func NewService(cfg *config.Config, manager metrickit.Manager, probe platform.Probe, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	b, err := bridge.New(manager, probe, log)
	if err != nil {
		return nil, fmt.Errorf("initialize bridge: %w", err)
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		manager:       manager,
		probe:         probe,
		bridge:        b,
		channels:      adapters,
		channelStates: channelStates,
	}, nil
}

// Bridge returns the bridge the service exposes.
func (s *Service) Bridge() *bridge.Bridge {
	return s.bridge
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.cfg.Bridge.AutoStart {
		if _, err := s.bridge.Start(); err != nil {
			return fmt.Errorf("auto start: %w", err)
		}
	}
	defer s.unsubscribe()

	if r, ok := s.manager.(replayer); ok && s.cfg.Replay.IntervalSeconds > 0 {
		interval := time.Duration(s.cfg.Replay.IntervalSeconds) * time.Second
		go func() {
			if err := r.Run(ctx, interval); err != nil {
				s.log.Error("Replay loop stopped", "error", err)
			}
		}()
		s.log.Info("Replay loop started", "interval", interval)
	}

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	errCh := make(chan error, len(s.channels))
	doneCh := make(chan string, len(s.channels))
	for _, adapter := range s.channels {
		adapter := adapter
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
				return
			}
			doneCh <- adapter.Name()
		}()
	}

	remaining := len(s.channels)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-serverErrors:
			return err
		case err := <-errCh:
			return err
		case name := <-doneCh:
			s.log.Info("Channel stopped", "channel", name)
			remaining--
			if remaining == 0 {
				return nil
			}
		}
	}
}

// HandleCall answers one method call from any channel.
func (s *Service) HandleCall(ctx context.Context, call bus.MethodCall) bus.MethodResult {
	if strings.TrimSpace(call.ID) == "" {
		call.ID = uuid.NewString()
	}

	started := time.Now()
	result, err := s.bridge.Handle(ctx, call)
	log := s.log.With("request_id", call.ID, "method", call.Method, "duration", time.Since(started))
	if err != nil {
		log.Warn("Call failed", "code", bridge.CodeFromError(err), "error", err)
		return bus.MethodResult{ID: call.ID, Error: bridge.ToPayload(err)}
	}

	log.Info("Call handled")
	return bus.MethodResult{ID: call.ID, Result: result}
}

// Listen attaches sink as the bridge's single listener.
func (s *Service) Listen(sink func(string)) func() {
	if sink == nil {
		s.bridge.Cancel()
		return func() {}
	}
	return s.bridge.Listen(bridge.Sink(sink))
}

func (s *Service) Cancel() {
	s.bridge.Cancel()
}

func (s *Service) unsubscribe() {
	if !s.bridge.Subscribed() {
		return
	}
	if _, err := s.bridge.Stop(); err != nil {
		s.log.Warn("Failed to unsubscribe on shutdown", "error", err)
	}
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	osVersion := ""
	if s.probe != nil {
		osVersion = s.probe.OSVersion().String()
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		OSVersion:     osVersion,
		Bridge:        s.bridge.Stats(),
		Channels:      channels,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
