package dispatch

import (
	"time"

	"github.com/alex-user-go/fares/internal/fare"
)

// RequestContext tracks one logical search request across attempts: the
// recorded round-trip samples and the best result known so far.
//
// A RequestContext must not be shared by requests that are in flight at the
// same time. SendRequest appends to Times from its own goroutine and the
// caller reads it only after receiving the Outcome.
type RequestContext struct {
	Times []time.Duration
	Info  *fare.SearchInfo
}

// Attempts returns the number of recorded attempt samples.
func (rc *RequestContext) Attempts() int {
	return len(rc.Times)
}
