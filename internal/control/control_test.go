package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portsample-ebpf/internal/config"
	"github.com/portsample-ebpf/internal/engine"
)

func newServer(t *testing.T) (*Controller, *engine.Filter, *httptest.Server) {
	t.Helper()
	f := engine.NewFilter(&engine.Config{Policy: engine.SinglePort(443)})
	c := New(f)
	mux := http.NewServeMux()
	c.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return c, f, srv
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestGetFilter(t *testing.T) {
	_, _, srv := newServer(t)

	status, out := do(t, http.MethodGet, srv.URL+"/filter", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "single", out["mode"])
	assert.Equal(t, float64(443), out["port"])
}

func TestPutFilter(t *testing.T) {
	c, f, srv := newServer(t)
	var seen []*engine.Config
	c.OnChange(func(cfg *engine.Config) { seen = append(seen, cfg) })

	status, out := do(t, http.MethodPut, srv.URL+"/filter",
		`{"mode":"directional","src_port":1000,"dst_port":2000,"direction":true}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "directional", out["mode"])

	snap := f.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, engine.DirectionalPorts(1000, 2000), snap.Policy)
	assert.True(t, snap.Direction)
	require.Len(t, seen, 1)
	assert.Equal(t, snap.Policy, seen[0].Policy)
}

func TestPutFilterRejected(t *testing.T) {
	c, f, srv := newServer(t)
	calls := 0
	c.OnChange(func(*engine.Config) { calls++ })

	tests := map[string]struct {
		body   string
		status int
	}{
		"malformed":     {`{"mode":`, http.StatusBadRequest},
		"unknown field": {`{"mode":"single","port":1,"ports":[1]}`, http.StatusBadRequest},
		"missing port":  {`{"mode":"single"}`, http.StatusUnprocessableEntity},
		"bad mode":      {`{"mode":"both","port":1}`, http.StatusUnprocessableEntity},
		"port overflow": {`{"mode":"single","port":70000}`, http.StatusUnprocessableEntity},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			status, out := do(t, http.MethodPut, srv.URL+"/filter", tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, out["error"])
		})
	}
	assert.Zero(t, calls)
	assert.Equal(t, engine.SinglePort(443), f.Snapshot().Policy)
}

func TestDeleteFilter(t *testing.T) {
	c, f, srv := newServer(t)
	last := &engine.Config{}
	c.OnChange(func(cfg *engine.Config) { last = cfg })

	status, out := do(t, http.MethodDelete, srv.URL+"/filter", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "none", out["mode"])
	assert.Nil(t, f.Snapshot())
	assert.Nil(t, last)
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, srv := newServer(t)
	resp, err := http.Post(srv.URL+"/filter", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestConfigureFilterFromReload(t *testing.T) {
	f := engine.NewFilter(nil)
	c := New(f)

	require.NoError(t, c.ConfigureFilter(config.FilterConfig{Mode: config.ModeSingle, Port: 53}, "reload"))
	assert.Equal(t, config.FilterConfig{Mode: config.ModeSingle, Port: 53}, c.Current())

	assert.Error(t, c.ConfigureFilter(config.FilterConfig{Mode: config.ModeDirectional}, "reload"))
	assert.Equal(t, 53, c.Current().Port)
}
