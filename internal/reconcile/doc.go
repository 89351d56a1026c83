// Package reconcile runs the periodic sweep that keeps the instance registry
// and the container engine coherent.
//
// The sweep itself lives in lifecycle.Manager.Reconcile. This package only
// schedules it:
//
//   - an initial sweep on startup, which cleans up after a crash
//   - further sweeps on a jittered ticker
//   - graceful shutdown through Stop
//
// A zero interval disables the periodic loop; the initial sweep still runs.
package reconcile
