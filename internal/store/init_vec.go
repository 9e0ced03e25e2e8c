//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Auto-load sqlite-vec into every mattn/go-sqlite3 connection. Without this
// tag the runtime vec0 probe fails and search falls back to full-scan cosine.
func init() {
	vec.Auto()
}
