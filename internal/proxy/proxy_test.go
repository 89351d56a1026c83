package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/seqci-proxy/internal/proxy/mocks"
	"github.com/stacklok/seqci-proxy/internal/registry"
)

func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

// frontend mounts the proxy the way the router does: everything under /{name}
func frontend(t *testing.T, p *Proxy, inst *registry.Instance) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Forward(w, r, inst)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	_, err := New("localhost", mocks.NewMockInvalidator(ctrl))
	require.Error(t, err)
	_, err = New("127.0.0.1", nil)
	require.Error(t, err)
}

func TestProxy_Forward(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Backend-Path", r.URL.Path)
		w.Header().Set("X-Backend-Query", r.URL.RawQuery)
		w.Header().Set("X-Backend-Auth", r.Header.Get("Authorization"))
		w.Header().Set("X-Backend-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		w.WriteHeader(http.StatusTeapot)
		_, _ = fmt.Fprintf(w, "%s %s", r.Method, body)
	}))
	t.Cleanup(backend.Close)

	ctrl := gomock.NewController(t)
	inst := &registry.Instance{Name: "4f2b3c60ae32", ProxiedPort: backendPort(t, backend)}
	p, err := New("127.0.0.1", mocks.NewMockInvalidator(ctrl))
	require.NoError(t, err)
	front := frontend(t, p, inst)

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantPath  string
		wantQuery string
	}{
		{name: "bare instance path", method: http.MethodPost, path: "/4f2b3c60ae32", body: `{"jsonrpc":"2.0"}`, wantPath: "/"},
		{name: "sub path", method: http.MethodPost, path: "/4f2b3c60ae32/rpc/v0_7", body: "x", wantPath: "/rpc/v0_7"},
		{name: "query preserved", method: http.MethodGet, path: "/4f2b3c60ae32/status?verbose=1&a=b", wantPath: "/status", wantQuery: "verbose=1&a=b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequest(tt.method, front.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer mykey")

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusTeapot, resp.StatusCode, "status preserved")
			assert.Equal(t, tt.method+" "+tt.body, string(body))
			assert.Equal(t, tt.wantPath, resp.Header.Get("X-Backend-Path"))
			assert.Equal(t, tt.wantQuery, resp.Header.Get("X-Backend-Query"))
			assert.Empty(t, resp.Header.Get("X-Backend-Auth"), "API key not forwarded")
			assert.Equal(t, "127.0.0.1", resp.Header.Get("X-Backend-Forwarded-For"))
		})
	}
}

func TestProxy_StreamsWithoutBuffering(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "first\n")
		w.(http.Flusher).Flush()
		<-release
		_, _ = io.WriteString(w, "second\n")
	}))
	t.Cleanup(backend.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	ctrl := gomock.NewController(t)
	inst := &registry.Instance{Name: "aaaaaaaaaaaa", ProxiedPort: backendPort(t, backend)}
	p, err := New("127.0.0.1", mocks.NewMockInvalidator(ctrl))
	require.NoError(t, err)
	front := frontend(t, p, inst)

	resp, err := http.Get(front.URL + "/aaaaaaaaaaaa/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "first\n", line, "first chunk arrives before the backend finishes")

	close(release)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "second\n", line)
}

func TestProxy_UpstreamFailureInvalidates(t *testing.T) {
	t.Parallel()

	// Grab a free port and close it so nothing is listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	inst := &registry.Instance{Name: "bbbbbbbbbbbb", ProxiedPort: port}
	stale := errors.New("instance not found")

	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvalidator(ctrl)
	inv.EXPECT().Invalidate(gomock.Any(), inst).Return(stale)

	reported := make(chan error, 1)
	p, err := New("127.0.0.1", inv, WithErrorWriter(func(w http.ResponseWriter, _ *http.Request, err error) {
		reported <- err
		w.WriteHeader(http.StatusNotFound)
	}))
	require.NoError(t, err)
	front := frontend(t, p, inst)

	resp, err := http.Post(front.URL+"/bbbbbbbbbbbb/rpc", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.ErrorIs(t, <-reported, stale)
}

func TestStripPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", stripPrefix("/abc", "/abc"))
	assert.Equal(t, "/", stripPrefix("/abc/", "/abc"))
	assert.Equal(t, "/x/y", stripPrefix("/abc/x/y", "/abc"))
	assert.Equal(t, "/x%2Fy", stripPrefix("/abc/x%2Fy", "/abc"))
}
