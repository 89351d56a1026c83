// Package proxy forwards tenant traffic to the sequencer behind an instance.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/seqci-proxy/internal/registry"
)

const defaultDialTimeout = 5 * time.Second

//go:generate mockgen -destination=mocks/mock_invalidator.go -package=mocks -source=proxy.go Invalidator

// Invalidator decides what a failed forward means for an instance.
// It returns the error to report to the client.
type Invalidator interface {
	Invalidate(ctx context.Context, inst *registry.Instance) error
}

// ErrorWriter renders an error response
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Proxy is a streaming reverse proxy to instance ports on a single host
type Proxy struct {
	hostIP      string
	invalidator Invalidator
	writeError  ErrorWriter
	transport   http.RoundTripper
	rp          *httputil.ReverseProxy
}

// Option configures a Proxy
type Option func(*Proxy)

// WithTransport replaces the upstream transport
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) {
		p.transport = rt
	}
}

// WithErrorWriter replaces the plain text error writer
func WithErrorWriter(w ErrorWriter) Option {
	return func(p *Proxy) {
		if w != nil {
			p.writeError = w
		}
	}
}

type targetKey struct{}

// New creates a proxy forwarding to ports on hostIP
func New(hostIP string, invalidator Invalidator, opts ...Option) (*Proxy, error) {
	if net.ParseIP(hostIP) == nil {
		return nil, fmt.Errorf("invalid upstream host %q", hostIP)
	}
	if invalidator == nil {
		return nil, fmt.Errorf("invalidator is required")
	}

	p := &Proxy{
		hostIP:      hostIP,
		invalidator: invalidator,
		writeError: func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadGateway)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.transport == nil {
		p.transport = defaultTransport()
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite:       p.rewrite,
		Transport:     p.transport,
		FlushInterval: -1,
		ErrorHandler:  p.handleError,
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug),
	}
	return p, nil
}

func defaultTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext
	t.MaxIdleConnsPerHost = 16
	return t
}

// Forward proxies r to inst. The leading /{name} segment is stripped.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, inst *registry.Instance) {
	ctx := context.WithValue(r.Context(), targetKey{}, inst)
	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	inst := pr.In.Context().Value(targetKey{}).(*registry.Instance)
	prefix := "/" + inst.Name

	pr.Out.URL.Path = stripPrefix(pr.In.URL.Path, prefix)
	pr.Out.URL.RawPath = ""
	if pr.In.URL.RawPath != "" {
		pr.Out.URL.RawPath = stripPrefix(pr.In.URL.RawPath, prefix)
	}

	pr.SetURL(&url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(p.hostIP, strconv.Itoa(inst.ProxiedPort)),
	})
	pr.SetXForwarded()
	// The tenant's API key is meant for this proxy only.
	pr.Out.Header.Del("Authorization")
}

func stripPrefix(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	inst := r.Context().Value(targetKey{}).(*registry.Instance)

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		slog.DebugContext(r.Context(), "Client went away during proxied request", "instance", inst.Name)
		return
	}

	slog.WarnContext(r.Context(), "Upstream request failed",
		"instance", inst.Name,
		"port", inst.ProxiedPort,
		"error", err)
	p.writeError(w, r, p.invalidator.Invalidate(context.WithoutCancel(r.Context()), inst))
}
