// Package fetch implements cache fill: deciding whether an object must be
// pulled from the origin, guaranteeing that at most one fetch sequence per
// object runs in the process, retrying with a fixed delay, and publishing the
// result through the cache package's staged rename.
//
// The Registry is the only shared mutable state. It is owned by whoever
// constructs the Coordinator; there are no package-level singletons. The Pool
// runs fills in the background with a hard ceiling on concurrency so request
// handlers never wait on the origin.
package fetch
