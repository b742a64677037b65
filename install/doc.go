// Package install installs bundles into a storage backend.
//
// An install runs in two phases reported over one progress channel. The
// hash check phase, reported over [0, 0.5], verifies any bundle already in
// storage and returns early when it is intact. The download phase, reported
// over [0.5, 1], fetches the payload with bounded retries: timeouts and
// server faults are retried after a linear backoff, every other failure is
// returned immediately.
//
// Downloaded bytes are hashed while they are written, so a corrupt payload
// is discarded before it is committed to storage.
package install
