package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmcp-lab/gateway/internal/metrics"
)

type probe struct {
	called bool
	group  string
	stamp  bool
}

func (p *probe) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.called = true
		p.group, p.stamp = GroupFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func serve(t *testing.T, mw *Middleware, path string, headers map[string]string) (*httptest.ResponseRecorder, *probe) {
	t.Helper()
	p := &probe{}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mw.Handler(p.handler()).ServeHTTP(rec, req)
	return rec, p
}

func localConfig() Config {
	return Config{
		Enabled:    true,
		Mode:       ModeLocal,
		HeaderName: DefaultHeaderName,
		Keys:       map[string]string{"K1": "G1", "K2": "G2"},
	}
}

func TestLocalModeResolvesGroup(t *testing.T) {
	mw := NewMiddleware(localConfig(), nil)

	rec, p := serve(t, mw, "/mcp", map[string]string{"X-API-Key": "K1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.called)
	assert.Equal(t, "G1", p.group)

	rec, p = serve(t, mw, "/mcp", map[string]string{"X-API-Key": "K2"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "G2", p.group)
}

func TestLocalModeRejectsUnknownAndMissingKeys(t *testing.T) {
	mw := NewMiddleware(localConfig(), nil)
	for _, headers := range []map[string]string{
		nil,
		{"X-API-Key": "K3"},
		{"X-API-Key": "k1"},
		{"X-API-Key": ""},
		{"Authorization": "Bearer K1"},
	} {
		rec, p := serve(t, mw, "/mcp", headers)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "headers=%v", headers)
		assert.False(t, p.called, "headers=%v", headers)
		assert.NotContains(t, rec.Body.String(), "K1")
	}
}

func TestLocalModeEmptyOrNilKeyTableRejectsAll(t *testing.T) {
	for _, keys := range []map[string]string{nil, {}} {
		cfg := localConfig()
		cfg.Keys = keys
		mw := NewMiddleware(cfg, nil)
		rec, p := serve(t, mw, "/mcp", map[string]string{"X-API-Key": "anything"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, p.called)
	}
}

func TestLocalModeIgnoresGroupHeader(t *testing.T) {
	mw := NewMiddleware(localConfig(), nil)
	rec, p := serve(t, mw, "/mcp", map[string]string{"X-Group-Id": "G1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, p.called)
}

func TestCustomHeaderName(t *testing.T) {
	cfg := localConfig()
	cfg.HeaderName = "X-Custom-Key"
	mw := NewMiddleware(cfg, nil)

	rec, _ := serve(t, mw, "/mcp", map[string]string{"X-API-Key": "K1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, p := serve(t, mw, "/mcp", map[string]string{"X-Custom-Key": "K1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "G1", p.group)
}

func TestGatewayModeTrustsGroupHeader(t *testing.T) {
	mw := NewMiddleware(Config{
		Enabled:               true,
		Mode:                  ModeGateway,
		GroupIdentifierHeader: "X-Group-Id",
		Keys:                  map[string]string{"K1": "G1"},
	}, nil)

	for _, apiKey := range []string{"", "K1", "garbage"} {
		headers := map[string]string{"X-Group-Id": "tenant-42"}
		if apiKey != "" {
			headers["X-API-Key"] = apiKey
		}
		rec, p := serve(t, mw, "/mcp", headers)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, p.called)
		assert.Equal(t, "tenant-42", p.group, "group must come from header, api key=%q", apiKey)
	}
}

func TestGatewayModeWithoutGroupHeaderPassesUnstamped(t *testing.T) {
	mw := NewMiddleware(Config{Enabled: true, Mode: ModeGateway}, nil)
	rec, p := serve(t, mw, "/mcp", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.called)
	assert.False(t, p.stamp)
}

func TestPublicPathsBypass(t *testing.T) {
	configs := []Config{
		localConfig(),
		{Enabled: true, Mode: ModeLocal},
		{Enabled: true, Mode: ModeGateway},
		{Enabled: false},
	}
	for _, cfg := range configs {
		mw := NewMiddleware(cfg, nil)
		for _, path := range PublicPaths {
			rec, p := serve(t, mw, path, nil)
			assert.Equal(t, http.StatusOK, rec.Code, "path=%s mode=%s", path, cfg.Mode)
			assert.True(t, p.called)
		}
	}
}

func TestDisabledIsNoop(t *testing.T) {
	cfg := localConfig()
	cfg.Enabled = false
	mw := NewMiddleware(cfg, nil)
	rec, p := serve(t, mw, "/mcp", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.called)
	assert.False(t, p.stamp)
}

func TestMiddlewareCopiesKeyTable(t *testing.T) {
	cfg := localConfig()
	mw := NewMiddleware(cfg, nil)
	cfg.Keys["K9"] = "G9"
	rec, _ := serve(t, mw, "/mcp", map[string]string{"X-API-Key": "K9"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRejectionsAreCounted(t *testing.T) {
	m := metrics.New()
	mw := NewMiddleware(localConfig(), m)
	serve(t, mw, "/mcp", nil)
	serve(t, mw, "/mcp", map[string]string{"X-API-Key": "K1"})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var out []string
	for _, mf := range families {
		if mf.GetName() != "docgate_auth_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var labels []string
			for _, l := range metric.GetLabel() {
				labels = append(labels, l.GetValue())
			}
			out = append(out, strings.Join(labels, "/"))
			assert.Equal(t, float64(1), metric.GetCounter().GetValue())
		}
	}
	assert.ElementsMatch(t, []string{"local/accepted", "local/rejected"}, out)
}
