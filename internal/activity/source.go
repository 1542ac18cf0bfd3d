// Package activity feeds user-activity signals to the inactivity
// monitor. The desk application reports input by touching a well-known
// file; watching that file keeps this process decoupled from how the
// desk app captures pointer and keyboard events.
package activity

import "context"

// Source delivers coarse activity signals by invoking touch. Sources do
// not interpret activity; qualifying an event is the desk app's job.
type Source interface {
	// Start begins delivery. touch may be called from any goroutine.
	Start(ctx context.Context, touch func()) error
	// Stop ends delivery and releases resources. Idempotent.
	Stop()
}
