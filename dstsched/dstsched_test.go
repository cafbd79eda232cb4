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

package dstsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDSTChangeNoTransitionReturnsFullWindow(t *testing.T) {
	always := func(time.Time) bool { return false }
	tick := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, TwoWeeks, NextDSTChange(tick, always))
}

func TestNextDSTChangeLocatesBoundary(t *testing.T) {
	tick := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	boundary := tick.Add(5 * 24 * time.Hour)

	isDST := func(tm time.Time) bool {
		return tm.After(boundary) || tm.Equal(boundary)
	}

	delay := NextDSTChange(tick, isDST)
	found := tick.Add(delay)

	// bounded binary search with 21 halvings of a 14-day window resolves to
	// well under a second.
	assert.WithinDuration(t, boundary, found, time.Second)
	assert.True(t, delay > 0 && delay <= TwoWeeks)
}

func TestSchedulerHandleFireFiresOnTransition(t *testing.T) {
	tick := time.Now()
	boundary := tick.Add(50 * time.Millisecond)

	isDST := func(tm time.Time) bool { return tm.After(boundary) }

	fired := make(chan struct{}, 1)
	s := New(isDST, func() { fired <- struct{}{} })
	s.wasDST = false
	s.timer = time.AfterFunc(60*time.Millisecond, s.handleFire)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onFire was not called after DST transition")
	}
	s.Stop()
}
