// Package server hosts the Fiber HTTP surface of the edge cache. The
// Dispatcher decides what every request means (hit, miss, listing, static
// fallthrough) and returns a Response descriptor; NewApp wraps it with the
// request ID, CORS and access-log middleware chain and writes descriptors to
// the wire. Keep exports narrow and accept explicit dependencies so tests can
// build an app around a temporary cache root and a fake fill pool.
package server
