package app

import (
	"github.com/stacklok/seqci-proxy/internal/db"
	"github.com/stacklok/seqci-proxy/internal/engine"
	"github.com/stacklok/seqci-proxy/internal/lifecycle"
	"github.com/stacklok/seqci-proxy/internal/reconcile"
	"github.com/stacklok/seqci-proxy/internal/registry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Reconciler runs the background reconciliation sweep
	Reconciler reconcile.Coordinator

	// Manager drives instance lifecycles
	Manager *lifecycle.Manager

	// Store is the instance registry
	Store registry.Store

	// Engine is the container engine
	Engine engine.Engine

	// Database is the registry connection, nil when the store was injected
	Database *db.Connection
}
