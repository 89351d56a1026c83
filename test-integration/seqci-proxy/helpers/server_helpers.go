package helpers

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/stacklok/seqci-proxy/internal/app"
	"github.com/stacklok/seqci-proxy/internal/config"
	"github.com/stacklok/seqci-proxy/internal/engine/enginetest"
)

// ServerTestHelper manages the proxy server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	baseURL    string
	httpClient *http.Client
	app        *app.ProxyApp
	port       int

	// Engine is the in-memory container engine behind the server
	Engine *enginetest.Fake
	// Sequencers serves JSON-RPC on every started container's port
	Sequencers *Sequencers
}

// NewServerTestHelper creates a new server test helper
func NewServerTestHelper(ctx context.Context, configPath string, port int) *ServerTestHelper {
	fake := enginetest.NewFake()
	seqs := NewSequencers("127.0.0.1")
	fake.OnStart = seqs.Start
	fake.OnRemove = seqs.Remove

	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		port:       port,
		Engine:     fake,
		Sequencers: seqs,
	}
}

// StartServer starts the proxy server programmatically
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath), config.WithEnv(viper.New()))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	proxyApp, err := app.NewProxyApp(s.ctx,
		app.WithConfig(cfg),
		app.WithAddress(fmt.Sprintf("127.0.0.1:%d", s.port)),
		app.WithEngine(s.Engine),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = proxyApp

	go func() {
		if err := proxyApp.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()

	return nil
}

// StopServer gracefully stops the proxy server and every fake sequencer
func (s *ServerTestHelper) StopServer() error {
	defer s.Sequencers.CloseAll()
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// App returns the running application
func (s *ServerTestHelper) App() *app.ProxyApp {
	return s.app
}

// WaitForServerReady waits for the server to be ready to accept requests
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/readyz")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// Do sends a request authenticated with apiKey. An empty key sends no
// Authorization header.
func (s *ServerTestHelper) Do(method, path, apiKey, body string) (*http.Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(s.ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.httpClient.Do(req)
}

// ReadBody reads and closes the response body
func ReadBody(resp *http.Response) string {
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return string(body)
}

// FreePort returns a TCP port that was free a moment ago
func FreePort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() {
		_ = l.Close()
	}()
	return l.Addr().(*net.TCPAddr).Port
}

// ConfigOptions holds the values written by WriteConfigYAML
type ConfigOptions struct {
	PortMin                int
	PortMax                int
	RevealForeignInstances bool
}

// WriteConfigYAML writes a configuration file and a users file seeding
// alice/mykey and bob/otherkey into dir
func WriteConfigYAML(dir string, opts ConfigOptions) string {
	usersFile := filepath.Join(dir, "users.csv")
	err := os.WriteFile(usersFile, []byte("alice,mykey\nbob,otherkey\n"), 0o600)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	configContent := fmt.Sprintf(`server:
  startTimeout: 30s

container:
  image: ghcr.io/dojoengine/katana:v1.0.0
  hostIP: 127.0.0.1
  pullPolicy: never

database:
  driver: sqlite
  path: %s

ports:
  min: %d
  max: %d
  maxAttempts: 128

auth:
  usersFile: %s
  revealForeignInstances: %t

logs:
  defaultTail: 25
`, filepath.Join(dir, "seqci.db"), opts.PortMin, opts.PortMax, usersFile, opts.RevealForeignInstances)

	configPath := filepath.Join(dir, "config.yaml")
	err = os.WriteFile(configPath, []byte(configContent), 0o600)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return configPath
}
