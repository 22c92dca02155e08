// Package server hosts the Fiber HTTP service for the built SPA bundle: the
// middleware chain (recover, request id, in-flight accounting, identity), the
// static asset handler with index fallback, and the Host lifecycle that binds
// the listener, drains on shutdown and reacts to termination signals.
// Diagnostics routes live in server/routes and the /api forwarder in proxy;
// both are injected so this package keeps its exports narrow.
package server
