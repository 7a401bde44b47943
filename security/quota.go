package security

import (
	"time"

	"github.com/giantswarm/oauth-gateway/storage"
)

// QuotaWindow is the length of a client's request accounting window.
const QuotaWindow = time.Hour

// ConsumeQuota applies one request at time now to a client's quota window.
//
// A request inside the window (now <= Until, inclusive) increments the count
// and is rejected only when the new count strictly exceeds the limit. A
// request after the window starts a new one ending at now+QuotaWindow with a
// count of 1. An unset or negative Until is treated as now.
//
// When limited is true the returned state equals the input with Until
// normalized and must not be persisted.
func ConsumeQuota(state storage.QuotaState, now time.Time) (next storage.QuotaState, limited bool) {
	until := state.Until
	if until.IsZero() || until.Unix() < 0 {
		until = now
	}

	var count int64
	if !now.After(until) {
		count = state.Count + 1
		if count > state.Limit {
			state.Until = until
			return state, true
		}
	} else {
		until = now.Add(QuotaWindow)
		count = 1
	}

	return storage.QuotaState{
		Limit:         state.Limit,
		Count:         count,
		Until:         until,
		LastRequestAt: now,
	}, false
}
