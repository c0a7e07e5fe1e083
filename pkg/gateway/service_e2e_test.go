package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"metricbridge/pkg/bridge"
	"metricbridge/pkg/bus"
	"metricbridge/pkg/channel"
	"metricbridge/pkg/channel/httpapi"
	"metricbridge/pkg/channel/stdio"
	"metricbridge/pkg/config"
	"metricbridge/pkg/logger"
	"metricbridge/pkg/metrickit"
	"metricbridge/pkg/metrickit/replay"
	"metricbridge/pkg/platform"

	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	name  string
	calls []bus.MethodCall

	mu      sync.Mutex
	results []bus.MethodResult
	done    chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, endpoint channel.Endpoint) error {
	for _, call := range a.calls {
		result := endpoint.HandleCall(ctx, call)

		a.mu.Lock()
		a.results = append(a.results, result)
		a.mu.Unlock()
	}

	close(a.done)

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) snapshot() []bus.MethodResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	results := make([]bus.MethodResult, len(a.results))
	copy(results, a.results)
	return results
}

func TestGatewayServiceRunE2EScriptedCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := platform.Static{Major: 13, Minor: 5}
	manager := replay.NewWithReports(probe,
		[]metrickit.Report{metrickit.RawReport(`{"appVersion":"1.0"}`), metrickit.FailedReport{}},
		[]metrickit.Report{metrickit.RawReport(`{"crashDiagnostics":[]}`)},
		logger.Discard(),
	)

	adapter := &scriptedAdapter{
		name: "scripted",
		calls: []bus.MethodCall{
			{ID: "1", Method: bridge.ActionStartReceivingReports},
			{ID: "2", Method: bridge.ActionGetPastPayloads},
			{ID: "3", Method: bridge.ActionGetDiagnosticPastPayloads},
			{ID: "4", Method: "frobnicate"},
		},
		done: make(chan struct{}),
	}

	cfg := &config.Config{Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: freeTCPPort(t)}}
	svc, err := NewService(cfg, manager, probe, []channel.Adapter{adapter}, logger.Discard())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for scripted calls")
	}

	require.Equal(t, 1, manager.Subscribers())

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}

	require.Equal(t, 0, manager.Subscribers(), "service should unsubscribe on shutdown")

	results := adapter.snapshot()
	require.Len(t, results, 4)
	require.Nil(t, results[0].Error)
	require.Equal(t, true, results[0].Result)
	require.Equal(t, `[{"appVersion":"1.0"},{}]`, results[1].Result)
	require.NotNil(t, results[2].Error)
	require.Equal(t, bridge.CodeUnsupportedPlatformVersion, results[2].Error.Code)
	require.NotNil(t, results[3].Error)
	require.Equal(t, bridge.CodeNotImplemented, results[3].Error.Code)
}

func TestGatewayServiceRunE2EStdioUntilEOF(t *testing.T) {
	probe := platform.Static{Major: 14}
	manager := replay.NewWithReports(probe,
		[]metrickit.Report{metrickit.RawReport(`{"appVersion":"2.0"}`)},
		[]metrickit.Report{metrickit.RawReport(`{"hangDiagnostics":[]}`)},
		logger.Discard(),
	)

	input := strings.Join([]string{
		`{"id":"a","method":"get_past_payloads"}`,
		`{"id":"b","method":"get_diagnostic_past_payloads"}`,
	}, "\n")
	var out strings.Builder
	adapter, err := stdio.NewAdapter(strings.NewReader(input), &out, logger.Discard())
	require.NoError(t, err)

	cfg := &config.Config{Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: freeTCPPort(t)}}
	svc, err := NewService(cfg, manager, probe, []channel.Adapter{adapter}, logger.Discard())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not exit after stdio input ended")
	}

	results := map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var frame bus.Frame
		require.NoError(t, json.Unmarshal([]byte(line), &frame))
		require.Nil(t, frame.Error)
		results[frame.ID] = frame.Result
	}
	require.Equal(t, `[{"appVersion":"2.0"}]`, results["a"])
	require.Equal(t, `[{"hangDiagnostics":[]}]`, results["b"])
}

func TestGatewayServiceRunE2EHTTPPushDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := platform.Static{Major: 15}
	manager := replay.NewWithReports(probe,
		[]metrickit.Report{metrickit.RawReport(`{"appVersion":"3.1"}`)},
		nil,
		logger.Discard(),
	)

	channelPort := freeTCPPort(t)
	adapter, err := httpapi.NewAdapter(config.HTTPChannelConfig{Enabled: true, Host: "127.0.0.1", Port: channelPort}, logger.Discard())
	require.NoError(t, err)

	healthPort := freeTCPPort(t)
	cfg := &config.Config{Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: healthPort}}
	svc, err := NewService(cfg, manager, probe, []channel.Adapter{adapter}, logger.Discard())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", healthPort)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	client := httpapi.NewClient(fmt.Sprintf("http://127.0.0.1:%d", channelPort), nil)
	var result bus.MethodResult
	require.Eventually(t, func() bool {
		result, err = client.Call(ctx, bus.MethodCall{Method: bridge.ActionStartReceivingReports})
		return err == nil
	}, 2*time.Second, 25*time.Millisecond)
	require.Nil(t, result.Error)

	streamCtx, stopStream := context.WithCancel(ctx)
	events := make(chan string, 4)
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- client.Events(streamCtx, func(event string) { events <- event })
	}()

	require.Eventually(t, func() bool { return svc.Bridge().Stats().ListenerAttached }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, manager.Deliver(metrickit.KindMetric))

	select {
	case got := <-events:
		require.Equal(t, `{"name":"MXMetricPayload","payloads":[{"appVersion":"3.1"}]}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("pushed envelope was not streamed")
	}

	stopStream()
	require.NoError(t, <-streamDone)
	require.Eventually(t, func() bool { return !svc.Bridge().Stats().ListenerAttached }, 2*time.Second, 10*time.Millisecond)

	manager.Deliver(metrickit.KindMetric)
	stats := svc.Bridge().Stats()
	require.Equal(t, uint64(1), stats.EventsDelivered)
	require.Equal(t, uint64(1), stats.EventsDropped)

	var status statusResponse
	response, err := http.Get(readyURL)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(response.Body).Decode(&status))
	require.NoError(t, response.Body.Close())
	require.Equal(t, "ready", status.Status)
	require.Equal(t, "15.0", status.OSVersion)
	require.True(t, status.Bridge.Subscribed)
	require.True(t, status.Channels["http"].Running)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			if statusCode == http.StatusOK || time.Now().After(deadline) {
				return statusCode
			}
		} else if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
