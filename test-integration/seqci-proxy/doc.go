// Package integration holds end-to-end tests driving the proxy over HTTP
// with an in-memory container engine whose containers serve JSON-RPC.
package integration
