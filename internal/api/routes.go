package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/seqci-proxy/internal/api/common"
	"github.com/stacklok/seqci-proxy/internal/auth"
	"github.com/stacklok/seqci-proxy/internal/engine"
	"github.com/stacklok/seqci-proxy/internal/lifecycle"
	"github.com/stacklok/seqci-proxy/internal/registry"
)

// Routes holds the handlers of the API server
type Routes struct {
	manager      InstanceManager
	forwarder    Forwarder
	defaultTail  int
	startTimeout time.Duration
}

func (rt *Routes) health(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func (rt *Routes) readiness(w http.ResponseWriter, r *http.Request) {
	if err := rt.manager.CheckReadiness(r.Context()); err != nil {
		slog.WarnContext(r.Context(), "Readiness check failed", "error", err)
		common.WriteErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	common.WriteJSONResponse(w, ReadinessResponse{Status: "ready"}, http.StatusOK)
}

func (rt *Routes) start(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	opts, err := startOptions(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	if rt.startTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.startTimeout)
		defer cancel()
	}

	inst, err := rt.manager.Start(ctx, tenant, opts)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	common.WriteTextResponse(w, inst.Name, http.StatusOK)
}

func startOptions(r *http.Request) (lifecycle.StartOptions, error) {
	blockTime, err := common.ParseOptionalUint(r, "block_time")
	if err != nil {
		return lifecycle.StartOptions{}, fmt.Errorf("%w: %w", lifecycle.ErrInvalidArgument, err)
	}
	noMining, err := common.ParseBool(r, "no_mining")
	if err != nil {
		return lifecycle.StartOptions{}, fmt.Errorf("%w: %w", lifecycle.ErrInvalidArgument, err)
	}
	return lifecycle.StartOptions{BlockTime: blockTime, NoMining: noMining}, nil
}

func (rt *Routes) stop(w http.ResponseWriter, r *http.Request) {
	tenant, name, ok := tenantAndName(w, r)
	if !ok {
		return
	}

	if err := rt.manager.Stop(r.Context(), tenant, name); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (rt *Routes) logs(w http.ResponseWriter, r *http.Request) {
	tenant, name, ok := tenantAndName(w, r)
	if !ok {
		return
	}

	tail, err := engine.ParseTail(r.URL.Query().Get("n"), rt.defaultTail)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	rc, err := rt.manager.Logs(r.Context(), tenant, name, tail)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	fw := &flushWriter{w: w, rc: http.NewResponseController(w)}
	if _, err := io.Copy(fw, rc); err != nil && !errors.Is(err, r.Context().Err()) {
		// Headers are gone already; all that is left is to cut the stream.
		slog.WarnContext(r.Context(), "Log stream interrupted", "instance", name, "error", err)
	}
}

func (rt *Routes) forward(w http.ResponseWriter, r *http.Request) {
	tenant, name, ok := tenantAndName(w, r)
	if !ok {
		return
	}

	inst, err := rt.manager.Resolve(r.Context(), tenant, name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	rt.forwarder.Forward(w, r, inst)
}

func requireTenant(w http.ResponseWriter, r *http.Request) (*registry.Tenant, bool) {
	tenant, ok := auth.TenantFromContext(r.Context())
	if !ok {
		common.WriteErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return nil, false
	}
	return tenant, true
}

// tenantAndName reports unparseable names as not found since no instance can carry them
func tenantAndName(w http.ResponseWriter, r *http.Request) (*registry.Tenant, string, bool) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return nil, "", false
	}
	name, err := common.GetAndValidateURLParam(r, "name")
	if err != nil {
		WriteError(w, r, fmt.Errorf("%w: %w", lifecycle.ErrInstanceNotFound, err))
		return nil, "", false
	}
	return tenant, name, true
}

type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err == nil {
		_ = f.rc.Flush()
	}
	return n, err
}
