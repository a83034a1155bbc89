// SPDX-License-Identifier: MIT

// Package ticker implements the periodic scheduler that drives the
// selector and, internally, each stage's own production rate.
//
// It reimplements original_source/util/schedule.py's periodic() design: the
// next fire time is computed as the prior scheduled time plus the interval
// (never "now + interval"), so a slow action does not drift the long-run
// rate, and missed deadlines are coalesced rather than bursted.
package ticker

import (
	"context"
	"time"
)

// HaltFunc is consulted before each fire; when it returns true, Schedule
// returns without firing.
type HaltFunc func() bool

// Schedule runs action() repeatedly at interval until ctx is cancelled or
// halt (if non-nil) returns true. It blocks the calling goroutine; callers
// typically invoke it via util.SafeGo or as a suture.Service.
func Schedule(ctx context.Context, interval time.Duration, action func(), halt HaltFunc) {
	next := time.Now().Add(interval)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if halt != nil && halt() {
			return
		}

		action()

		// Coalesce missed deadlines: advance next by whole intervals until it
		// is back in the future, rather than firing a catch-up burst.
		now := time.Now()
		for !next.After(now) {
			next = next.Add(interval)
		}
		timer.Reset(time.Until(next))
	}
}
