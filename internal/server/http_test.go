package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sserrano44/GibberWallet/internal/airlink"
	"github.com/sserrano44/GibberWallet/internal/channel"
	"github.com/sserrano44/GibberWallet/internal/config"
	"github.com/sserrano44/GibberWallet/internal/metrics"
	"github.com/sserrano44/GibberWallet/internal/session"
)

type fakeChannel struct{ stats channel.Stats }

func (f fakeChannel) Stats() channel.Stats { return f.stats }

type fakeClient struct {
	active bool
	snap   session.Snapshot
}

func (f fakeClient) Active() bool               { return f.active }
func (f fakeClient) Snapshot() session.Snapshot { return f.snap }

type fakeSigner struct{ stats session.ResponderStats }

func (f fakeSigner) Stats() session.ResponderStats { return f.stats }

type fakeLink struct{ stats airlink.LinkStatistics }

func (f fakeLink) GetStatistics() airlink.LinkStatistics { return f.stats }

func newTestServer(t *testing.T, sources Sources) (*HTTPServer, *metrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	cfg := config.Default()
	cfg.Signer.KeyFile = "/secure/signer.key"
	cfg.Signer.ChainID = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(cfg.HTTP, logger, cfg, sources, m, reg), m, reg
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthClient(t *testing.T) {
	srv, _, _ := newTestServer(t, Sources{
		Channel: fakeChannel{stats: channel.Stats{Listening: true, Transmissions: 3}},
		Client:  fakeClient{active: true, snap: session.Snapshot{State: "handshaking"}},
	})

	rec, body := get(t, srv.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	service := body["service"].(map[string]interface{})
	assert.Equal(t, "client", service["role"])
	assert.Equal(t, "1.0", service["protocol_version"])

	components := body["components"].(map[string]interface{})
	assert.Contains(t, components, "channel")
	assert.Contains(t, components, "session")
	assert.NotContains(t, components, "signer")
	assert.Equal(t, "handshaking", components["session"].(map[string]interface{})["state"])
}

func TestSessionEndpoint(t *testing.T) {
	t.Run("client", func(t *testing.T) {
		srv, _, _ := newTestServer(t, Sources{
			Client: fakeClient{snap: session.Snapshot{State: "awaiting_response", CorrelationID: "c1", Attempt: 2}},
		})
		rec, body := get(t, srv.Handler(), "/session")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "client", body["role"])
		snap := body["session"].(map[string]interface{})
		assert.Equal(t, "c1", snap["correlation_id"])
		assert.Equal(t, float64(2), snap["attempt"])
	})

	t.Run("signer", func(t *testing.T) {
		srv, _, _ := newTestServer(t, Sources{
			Signer: fakeSigner{stats: session.ResponderStats{State: session.ResponderAwaitingApproval, PendingID: "r1"}},
		})
		rec, body := get(t, srv.Handler(), "/session")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "signer", body["role"])
		signer := body["signer"].(map[string]interface{})
		assert.Equal(t, "awaiting_approval", signer["state"])
		assert.Equal(t, "r1", signer["pending_id"])
	})

	t.Run("none", func(t *testing.T) {
		srv, _, _ := newTestServer(t, Sources{})
		rec, _ := get(t, srv.Handler(), "/session")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestChannelEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, Sources{
		Channel: fakeChannel{stats: channel.Stats{DecodeSuccesses: 4}},
		Link:    fakeLink{stats: airlink.LinkStatistics{PacketsSent: 10, FramesLost: 1}},
	})

	rec, body := get(t, srv.Handler(), "/channel")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["channel"].(map[string]interface{})["decode_successes"])
	assert.Equal(t, float64(10), body["link"].(map[string]interface{})["packets_sent"])
}

func TestChannelEndpointMissing(t *testing.T) {
	srv, m, _ := newTestServer(t, Sources{})

	rec, _ := get(t, srv.Handler(), "/channel")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPErrors.WithLabelValues("GET", "/channel", "client_error")))
}

func TestConfigEndpointSanitized(t *testing.T) {
	srv, _, _ := newTestServer(t, Sources{})

	rec, body := get(t, srv.Handler(), "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/secure/signer.key")

	signer := body["signer"].(map[string]interface{})
	assert.NotContains(t, signer, "key_file")
	assert.Equal(t, float64(1), signer["chain_id"])
	assert.Equal(t, float64(48000), body["audio"].(map[string]interface{})["sample_rate"])
}

func TestRootAndNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, Sources{Client: fakeClient{}})

	rec, body := get(t, srv.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "client", body["role"])
	assert.Contains(t, body["endpoints"], "GET /metrics")

	rec, _ = get(t, srv.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, Sources{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, m, _ := newTestServer(t, Sources{})

	get(t, srv.Handler(), "/health")
	get(t, srv.Handler(), "/health")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/health", "200")))

	rec, _ := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gibber_http_requests_total")
}

func TestStartStop(t *testing.T) {
	srv, _, _ := newTestServer(t, Sources{})
	srv.server.Addr = "127.0.0.1:0"

	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start(), "second start is refused")
	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()), "stop is idempotent")
}
