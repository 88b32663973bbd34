package engine

import "errors"

// ErrSyncFailed is the fatal condition surfaced through Err() when the
// synchronization handshake's sync message exhausts its retries while still
// unsynchronized. It is the only engine condition that terminates the drive
// loop; every other error kind (corrupted datagrams, transient transport
// errors, per-message delivery failure) is recovered locally.
var ErrSyncFailed = errors.New("udpcp: synchronization failed: retries exhausted")
