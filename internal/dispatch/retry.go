package dispatch

import "github.com/alex-user-go/fares/internal/fare"

// MaxTimeSamples is the number of attempt samples a context may hold before
// the request is abandoned, so the seventh recorded attempt gives up.
const MaxTimeSamples = 6

// ShouldGiveUp reports whether rc has exhausted its attempt budget. When it
// has, onGiveUp is called once with rc and its best known result, or with
// fare.Default() when no result exists yet.
func ShouldGiveUp(rc *RequestContext, onGiveUp func(*RequestContext, *fare.SearchInfo)) bool {
	if len(rc.Times) <= MaxTimeSamples {
		return false
	}

	info := rc.Info
	if info == nil {
		info = fare.Default()
	}
	if onGiveUp != nil {
		onGiveUp(rc, info)
	}
	return true
}
