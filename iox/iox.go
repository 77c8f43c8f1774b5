// Package iox provides I/O helpers for response bodies and connections.
package iox

import "io"

// MaxDrainBytes bounds how much of an unread body DrainClose consumes
// before giving up on connection reuse.
const MaxDrainBytes = 64 << 10

// DiscardClose closes c and discards the error.
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads up to MaxDrainBytes of rc and closes it, so an HTTP
// keep-alive connection can be reused:
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, MaxDrainBytes))
	_ = rc.Close()
}

// CloseFunc returns a cleanup function that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}
