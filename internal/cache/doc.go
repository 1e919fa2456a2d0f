// Package cache owns the local disk tier of the edge cache. It classifies
// request paths into content-addressed object keys (Scheme), maps keys onto
// StoragePath/<key> files, and exposes a staging primitive that writes a
// sibling temp file and publishes it with a single rename, so readers only
// ever observe absent or complete objects. Objects are immutable: the store
// never rewrites or deletes a published file.
package cache
