package sampler

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/relay-fleet/pkg/model"
)

// nodeForServer 把httptest服务器的地址拆成探测节点
func nodeForServer(t *testing.T, srv *httptest.Server) *model.Node {
	t.Helper()

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &model.Node{ID: 1, Name: "node", Address: host, APIPort: port, Status: model.NodeStatusConnected}
}

func TestHTTPProberSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := NewHTTPProber().Probe(context.Background(), nodeForServer(t, srv))

	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.Greater(t, result.ResponseTime, 0.0)
}

func TestHTTPProberNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	result := NewHTTPProber().Probe(context.Background(), nodeForServer(t, srv))

	assert.False(t, result.Success)
	assert.Equal(t, "HTTP 503", result.Error)
}

func TestHTTPProberTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := NewHTTPProber().Probe(ctx, nodeForServer(t, srv))

	assert.False(t, result.Success)
	assert.Equal(t, "Timeout", result.Error)
}

func TestHTTPProberConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	node := nodeForServer(t, srv)
	// 关闭服务器后探测，端口已无人监听
	srv.Close()

	result := NewHTTPProber().Probe(context.Background(), node)

	assert.False(t, result.Success)
	assert.True(t, strings.HasPrefix(result.Error, "Connection error: "), "实际错误: %s", result.Error)
}
