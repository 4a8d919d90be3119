// Package util provides logging, progress display and transfer statistics
// shared by the client packages.
package util

import "github.com/google/uuid"

// NewSessionID returns a short random identifier used to tag the log lines of
// one transfer session.
func NewSessionID() string {
	return uuid.NewString()[:8]
}
