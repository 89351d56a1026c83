package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/seqci-proxy/internal/engine"
)

// ChainID is the chain id every fake sequencer reports
const ChainID = "0x4b4154414e41"

// Sequencers runs one JSON-RPC HTTP server per started container, listening
// on the container's allocated port the way a real sequencer would
type Sequencers struct {
	hostIP string

	mu      sync.Mutex
	servers map[string]*http.Server
}

// NewSequencers creates an empty set listening on hostIP
func NewSequencers(hostIP string) *Sequencers {
	return &Sequencers{hostIP: hostIP, servers: map[string]*http.Server{}}
}

// Start is an enginetest.Fake OnStart hook
func (s *Sequencers) Start(id string, spec engine.ContainerSpec) error {
	l, err := net.Listen("tcp", net.JoinHostPort(s.hostIP, fmt.Sprint(spec.Port)))
	if err != nil {
		return fmt.Errorf("sequencer %s: %w", id, err)
	}

	srv := &http.Server{Handler: rpcHandler(spec), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("sequencer %s stopped: %v\n", id, err)
		}
	}()

	s.mu.Lock()
	s.servers[id] = srv
	s.mu.Unlock()
	return nil
}

// Remove is an enginetest.Fake OnRemove hook
func (s *Sequencers) Remove(id string, _ engine.ContainerSpec) {
	s.mu.Lock()
	srv := s.servers[id]
	delete(s.servers, id)
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Close()
	}
}

// Running returns the number of live sequencers
func (s *Sequencers) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.servers)
}

// CloseAll stops every sequencer
func (s *Sequencers) CloseAll() {
	s.mu.Lock()
	servers := s.servers
	s.servers = map[string]*http.Server{}
	s.mu.Unlock()

	for _, srv := range servers {
		_ = srv.Close()
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func rpcHandler(spec engine.ContainerSpec) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Sequencer-Port", fmt.Sprint(spec.Port))
		w.Header().Set("X-Sequencer-Path", r.URL.Path)
		w.Header().Set("X-Sequencer-Authorization", r.Header.Get("Authorization"))

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "katana is running\n")
			return
		}

		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON-RPC request", http.StatusBadRequest)
			return
		}

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "starknet_chainId":
			resp.Result = ChainID
		case "starknet_blockNumber":
			resp.Result = 0
		default:
			resp.Error = &rpcError{Code: -32601, Message: "Method not found"}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
