package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/device"
	"github.com/cogmote/puremote/internal/deviceapi"
	"github.com/cogmote/puremote/internal/discovery"
	"github.com/cogmote/puremote/internal/metrics"
	"github.com/cogmote/puremote/internal/registry"
)

const (
	host    = "127.0.0.1"
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeAgent serves the device agent endpoints. Frames sent on trials are
// streamed to whoever is subscribed to /api/broadcast/data/trials.
type fakeAgent struct {
	server *httptest.Server
	trials chan string
}

func newFakeAgent(t *testing.T) *fakeAgent {
	t.Helper()

	a := &fakeAgent{trials: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc(deviceapi.PathDevice, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hostname":"lab-pc","os":"linux","arch":"amd64","uptime":12.5}`))
	})
	mux.HandleFunc(deviceapi.PathBroadcast, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(device.BroadcastChannels{Endpoints: []string{"trials", "gaze"}})
	})
	mux.HandleFunc(deviceapi.PathBroadcast+"/trials", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for {
			select {
			case frame := <-a.trials:
				fmt.Fprintf(w, "data: %s\n\n", frame)
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	a.server = httptest.NewServer(mux)
	t.Cleanup(a.server.Close)
	return a
}

func (a *fakeAgent) client(t *testing.T) *deviceapi.Client {
	t.Helper()

	u, err := url.Parse(a.server.URL)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := deviceapi.NewClient()
	c.Port = port
	c.SetRetry(0, 0)
	return c
}

type fixture struct {
	agent    *fakeAgent
	registry *registry.Registry
	channels *channel.Manager
	relay    *Server
	server   *httptest.Server
}

func newFixture(t *testing.T, config *Config, opts ...Option) *fixture {
	t.Helper()

	agent := newFakeAgent(t)
	client := agent.client(t)

	reg := registry.New(filepath.Join(t.TempDir(), registry.FileName), registry.FileStorage{}, nil)
	channels := channel.NewManager(client)
	t.Cleanup(channels.CloseAll)

	if config == nil {
		config = &Config{ConnectTimeout: time.Second}
	}
	relay := New(config, reg, channels, opts...)
	server := httptest.NewServer(relay.Handler())
	t.Cleanup(server.Close)

	return &fixture{agent: agent, registry: reg, channels: channels, relay: relay, server: server}
}

func (f *fixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) wsURL(address, name string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/" + address + "/" + name
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestGetDevices(t *testing.T) {
	f := newFixture(t, nil)
	f.registry.Upsert(device.Record{
		Address: "10.0.0.7",
		Status:  device.StatusOnline,
		Device:  &device.Details{Hostname: "rig-1"},
	})

	resp := f.do(t, http.MethodGet, "/api/devices")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	records := decode[[]device.Record](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "10.0.0.7", records[0].Address)
	assert.Equal(t, "rig-1", records[0].Device.Hostname)
}

func TestGetDevice(t *testing.T) {
	f := newFixture(t, nil)
	f.registry.Upsert(device.Record{Address: "10.0.0.7", Status: device.StatusOffline, Device: &device.Details{}})

	resp := f.do(t, http.MethodGet, "/api/devices/10.0.0.7")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, device.StatusOffline, decode[device.Record](t, resp).Status)

	resp = f.do(t, http.MethodGet, "/api/devices/10.0.0.8")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, decode[ErrorResponse](t, resp).Status)
}

func TestAddDevice(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, nil)
		resp := f.do(t, http.MethodPost, "/api/devices/"+host)
		assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	})

	t.Run("probes and registers", func(t *testing.T) {
		agent := newFakeAgent(t)
		coord := discovery.NewCoordinator(agent.client(t), nil)
		f := newFixture(t, nil, WithAdder(coord))
		coord.SetSink(f.registry)

		resp := f.do(t, http.MethodPost, "/api/devices/"+host)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		record, ok := f.registry.Get(host)
		require.True(t, ok)
		assert.True(t, record.Online())
		assert.Equal(t, "lab-pc", record.Device.Hostname)
	})

	t.Run("unreachable", func(t *testing.T) {
		client := deviceapi.NewClient()
		client.Port = 1
		coord := discovery.NewCoordinator(client, nil)
		f := newFixture(t, nil, WithAdder(coord))
		coord.SetSink(f.registry)

		resp := f.do(t, http.MethodPost, "/api/devices/"+host)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, 0, f.registry.Len())
	})
}

func TestGetChannels_FetchesWhenUnknown(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/devices/"+host+"/channels")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []string{"trials", "gaze"}, decode[[]string](t, resp))
	assert.Equal(t, []string{"gaze", "trials"}, f.channels.Channels(host))
}

func TestGetChannels_AgentDown(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/devices/127.0.0.2/channels")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	base := "/api/devices/" + host + "/channels/trials"

	resp := f.do(t, http.MethodPost, base+"/connect")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, channel.StateOpen, decode[ConnectResponse](t, resp).State)

	f.agent.trials <- `{"trial":1}`
	require.Eventually(t, func() bool {
		return len(f.channels.BufferedEvents(host, "trials")) == 1
	}, waitFor, tick)

	resp = f.do(t, http.MethodGet, base+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]channel.Event](t, resp)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"trial":1}`, string(events[0].Data))

	resp = f.do(t, http.MethodPost, base+"/disconnect")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, channel.StateClosed, decode[ConnectResponse](t, resp).State)

	resp = f.do(t, http.MethodGet, "/api/channels")
	infos := decode[[]channel.Info](t, resp)
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].Events)
}

func TestConnect_TransportError(t *testing.T) {
	f := newFixture(t, nil)

	// The agent has no "gaze" stream, so the dial gets a 404.
	resp := f.do(t, http.MethodPost, "/api/devices/"+host+"/channels/gaze/connect")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, channel.StateError, f.channels.State(host, "gaze"))
}

func TestConnectStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", channel.ErrAlreadyConnecting), http.StatusConflict},
		{channel.ErrDisconnected, http.StatusConflict},
		{fmt.Errorf("x: %w after 5s", channel.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: refused", channel.ErrTransport), http.StatusBadGateway},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, connectStatus(tt.err))
		})
	}
}

func waitForSubscribers(t *testing.T, channels *channel.Manager, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, info := range channels.List() {
			if info.Name == "trials" {
				return info.Subscribers == n
			}
		}
		return n == 0
	}, waitFor, tick)
}

func TestWebSocket_ForwardsEvents(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.channels.Connect(context.Background(), host, "trials", time.Second))

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(host, "trials"), nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForSubscribers(t, f.channels, 1)
	assert.Equal(t, 1, f.relay.GetActiveConnections())

	f.agent.trials <- `{"trial":1}`
	f.agent.trials <- `{"trial":2}`

	for i := 1; i <= 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "event", msg.Type)
		assert.Equal(t, host, msg.Address)
		assert.Equal(t, "trials", msg.Channel)
		assert.JSONEq(t, fmt.Sprintf(`{"trial":%d}`, i), string(msg.Data))
		assert.False(t, msg.ReceivedAt.IsZero())
	}
}

func TestWebSocket_ClientLeaveUnsubscribes(t *testing.T) {
	f := newFixture(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(host, "trials"), nil)
	require.NoError(t, err)
	waitForSubscribers(t, f.channels, 1)

	require.NoError(t, conn.Close())
	waitForSubscribers(t, f.channels, 0)
	require.Eventually(t, func() bool { return f.relay.GetActiveConnections() == 0 }, waitFor, tick)
}

func TestWebSocket_Origin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		ok      bool
	}{
		{"foreign origin rejected", nil, "http://evil.example", false},
		{"listed origin", []string{"http://localhost:5173"}, "http://localhost:5173", true},
		{"wildcard", []string{"*"}, "http://anything.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &Config{AllowedOrigins: tt.allowed})

			header := http.Header{"Origin": []string{tt.origin}}
			conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(host, "trials"), header)
			if tt.ok {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestShutdown_ClosesClients(t *testing.T) {
	f := newFixture(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(host, "trials"), nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForSubscribers(t, f.channels, 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.relay.Shutdown(ctx))
	assert.Equal(t, 0, f.relay.GetActiveConnections())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestServe_StopsOnContext(t *testing.T) {
	f := newFixture(t, nil)

	listener, err := net.Listen("tcp", host+":0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.relay.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/api/devices")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, waitFor, tick)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, nil)
		resp := f.do(t, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("enabled", func(t *testing.T) {
		m := metrics.New()
		m.SetDevices(3, 2)
		f := newFixture(t, nil, WithMetrics(m))

		resp := f.do(t, http.MethodGet, "/metrics")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "puremote_devices_online 2")
	})
}
