/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dstsched computes the next DST transition in a zone by bounded
// binary search and arms a one-shot timer for it, re-arming on every commit.
package dstsched

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// TwoWeeks is the scheduling window: if no DST transition occurs within it,
// the timer simply re-checks after the full window.
const TwoWeeks = 14 * 24 * time.Hour

// Iterations is the number of binary-search halvings used to locate a
// transition within the window; 21 halvings of 14 days resolves to
// sub-second precision, matching next_dst_change's hardcoded loop count.
const Iterations = 21

// DSTFunc reports whether zone observes DST at tick.
type DSTFunc func(tick time.Time) bool

// NextDSTChange computes the delay, from tick, until the next DST boundary
// (or TwoWeeks if none occurs within the window), by the same bounded
// binary search as next_dst_change: repeatedly halve the search window,
// accepting the half that keeps the DST state the same as at tick.
func NextDSTChange(tick time.Time, isDST DSTFunc) time.Duration {
	d0 := isDST(tick)
	d14 := isDST(tick.Add(TwoWeeks))

	if d0 == d14 {
		return TwoWeeks
	}

	lo := tick
	maxTimeout := TwoWeeks
	for i := 0; i < Iterations; i++ {
		secs := int64(maxTimeout / time.Second)
		maxTimeout = time.Duration((secs+1)/2) * time.Second
		if isDST(lo.Add(maxTimeout)) == d0 {
			lo = lo.Add(maxTimeout)
		}
	}

	return lo.Add(maxTimeout).Sub(tick)
}

// Scheduler owns at most one outstanding one-shot DST timer.
type Scheduler struct {
	isDST  DSTFunc
	onFire func()
	wasDST bool
	timer  *time.Timer
}

// New constructs a Scheduler. isDST reports the DST state of the zone under
// management at a given instant; onFire is invoked when a transition fires.
func New(isDST DSTFunc, onFire func()) *Scheduler {
	return &Scheduler{isDST: isDST, onFire: onFire}
}

// Arm implements next_dst_change(tick, keepAlarmTimer): unless keepTimer is
// set, the previous timer is cancelled first; the new one is always armed.
func (s *Scheduler) Arm(tick time.Time, keepTimer bool) {
	if !keepTimer && s.timer != nil {
		s.timer.Stop()
	}

	s.wasDST = s.isDST(tick)
	delay := NextDSTChange(tick, s.isDST)

	log.Debugf("dstsched: next check in %s (window %s)", delay, TwoWeeks)

	s.timer = time.AfterFunc(delay, s.handleFire)
}

// handleFire implements handle_alarm: compare current DST state against the
// state observed at the last arming; if it flipped, invoke onFire (expected
// to broadcast a time-change notification); always re-arm.
func (s *Scheduler) handleFire() {
	now := time.Now()
	current := s.isDST(now)

	if current != s.wasDST {
		log.Infof("dstsched: DST changed to %v", current)
		if s.onFire != nil {
			s.onFire()
		}
	}

	s.Arm(now, false)
}

// Stop cancels any outstanding timer. Used at shutdown.
func (s *Scheduler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}
