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

package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	setTimeCalls []int64
	setZoneCalls []string
	failZone     bool
}

func (f *fakeClock) SetTime(ctx context.Context, tick int64) error {
	f.setTimeCalls = append(f.setTimeCalls, tick)
	return nil
}

func (f *fakeClock) SetZone(ctx context.Context, zone string) error {
	if f.failZone {
		return assert.AnError
	}
	f.setZoneCalls = append(f.setZoneCalls, zone)
	return nil
}

type fakeNotifier struct {
	calls []int64
}

func (f *fakeNotifier) TimeChanged(tick int64) error {
	f.calls = append(f.calls, tick)
	return nil
}

type fakeResolver struct {
	zone       string
	found      bool
	candidates []string
}

func (f *fakeResolver) GuessZone(utc time.Time, dst int, gmtOffsetSec int) (string, bool) {
	return f.zone, f.found
}

func (f *fakeResolver) Candidates() []string { return f.candidates }

func (f *fakeResolver) EnsureSubscription(autosync bool) (bool, bool) { return false, false }

type fakeDST struct {
	armedAt []time.Time
	stopped bool
}

func (f *fakeDST) Arm(tick time.Time, keepTimer bool) { f.armedAt = append(f.armedAt, tick) }
func (f *fakeDST) Stop()                              { f.stopped = true }

func newTestEngine(t *testing.T, resolver *fakeResolver) (*Engine, *fakeClock, *fakeNotifier, *fakeDST) {
	t.Helper()
	clock := &fakeClock{}
	notifier := &fakeNotifier{}
	dst := &fakeDST{}
	e := New(clock, resolver, dst, notifier, Options{
		ConfigPath:    filepath.Join(t.TempDir(), ".clockd.conf"),
		LocaltimePath: filepath.Join(t.TempDir(), "localtime"),
	})
	e.autosync = true
	return e, clock, notifier, dst
}

func operatorTimeValues(t time.Time, tzQuarter, dst int32) []int32 {
	y := int32(t.Year() - 2000)
	return []int32{y, int32(t.Month()), int32(t.Day()), int32(t.Hour()), int32(t.Minute()), int32(t.Second()), tzQuarter, dst}
}

func TestHandleOperatorTimeCommitsWhenAutosyncOn(t *testing.T) {
	resolver := &fakeResolver{zone: "Europe/Helsinki", found: true, candidates: []string{"Europe/Helsinki"}}
	e, clock, notifier, dst := newTestEngine(t, resolver)

	target := time.Date(2024, time.March, 15, 9, 30, 0, 0, time.UTC)
	err := e.HandleOperatorTime(context.Background(), operatorTimeValues(target, 8, 0))
	require.NoError(t, err)

	require.Len(t, clock.setTimeCalls, 1)
	assert.Equal(t, target.Unix(), clock.setTimeCalls[0])
	require.Len(t, clock.setZoneCalls, 1)
	assert.Equal(t, ":Europe/Helsinki", clock.setZoneCalls[0])
	assert.NotEmpty(t, notifier.calls)
	assert.NotEmpty(t, dst.armedAt)
	assert.Equal(t, ":Europe/Helsinki", e.savedOperatorZone)
}

func TestHandleOperatorTimeAllSentinelReturnsUnsupported(t *testing.T) {
	resolver := &fakeResolver{}
	e, _, _, _ := newTestEngine(t, resolver)

	values := []int32{100, 100, 100, 100, 100, 100, 100, 100}
	err := e.HandleOperatorTime(context.Background(), values)
	assert.ErrorIs(t, err, ErrOperatorUnsupported)
}

func TestHandleOperatorTimeFallsBackToSyntheticZoneWhenGuessFails(t *testing.T) {
	resolver := &fakeResolver{found: false, candidates: nil}
	e, clock, _, _ := newTestEngine(t, resolver)

	target := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	err := e.HandleOperatorTime(context.Background(), operatorTimeValues(target, 8, 0))
	require.NoError(t, err)

	require.Len(t, clock.setZoneCalls, 1)
	assert.Equal(t, ":Etc/GMT-2", clock.setZoneCalls[0])
}

func TestHandleOperatorTimeDoesNotCommitWhenAutosyncOff(t *testing.T) {
	resolver := &fakeResolver{zone: "Europe/Helsinki", found: true, candidates: []string{"Europe/Helsinki"}}
	e, clock, _, _ := newTestEngine(t, resolver)
	e.autosync = false

	target := time.Date(2024, time.March, 15, 9, 30, 0, 0, time.UTC)
	err := e.HandleOperatorTime(context.Background(), operatorTimeValues(target, 8, 0))
	require.NoError(t, err)

	assert.Empty(t, clock.setTimeCalls)
	assert.Empty(t, clock.setZoneCalls)
	assert.Equal(t, target.Unix(), e.netTimeChangedTime)
}

func TestSetAutosyncRefusedWhenDisabledByEnvironment(t *testing.T) {
	resolver := &fakeResolver{}
	e, _, _, _ := newTestEngine(t, resolver)
	e.netTimeDisabledEnv = true
	e.autosync = false

	ok, err := e.SetAutosync(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, e.autosync)
}

func TestSetAutosyncActivatesPendingNetTime(t *testing.T) {
	resolver := &fakeResolver{candidates: []string{"Europe/Helsinki"}}
	e, clock, _, _ := newTestEngine(t, resolver)
	e.autosync = false
	e.netTimeChangedTime = time.Now().Unix()
	e.netTimeChangedAt = time.Now()
	e.savedOperatorZone = ":Europe/Helsinki"

	ok, err := e.SetAutosync(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, clock.setTimeCalls, 1)
}

func TestSetTimezoneAcceptsColonPrefixedForm(t *testing.T) {
	resolver := &fakeResolver{}
	e, clock, _, dst := newTestEngine(t, resolver)

	ok, err := e.SetTimezone(context.Background(), ":Europe/Oslo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ":Europe/Oslo", e.TZ())
	assert.Len(t, clock.setZoneCalls, 1)
	assert.NotEmpty(t, dst.armedAt)
}

func TestSetTimezoneRejectsMalformedBareZone(t *testing.T) {
	resolver := &fakeResolver{}
	e, _, _, _ := newTestEngine(t, resolver)

	ok, err := e.SetTimezone(context.Background(), "123bogus")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnModeChangeClearsPendingOperatorTime(t *testing.T) {
	resolver := &fakeResolver{}
	e, _, _, _ := newTestEngine(t, resolver)
	e.netTimeChangedTime = 12345

	e.OnModeChange()
	assert.Zero(t, e.netTimeChangedTime)
}

func TestSetOperatorZoneCommitsUnconditionally(t *testing.T) {
	resolver := &fakeResolver{}
	e, clock, notifier, dst := newTestEngine(t, resolver)

	err := e.SetOperatorZone(context.Background(), "Europe/Helsinki")
	require.NoError(t, err)

	require.Len(t, clock.setZoneCalls, 1)
	assert.Equal(t, ":Europe/Helsinki", clock.setZoneCalls[0])
	assert.Equal(t, ":Europe/Helsinki", e.savedOperatorZone)
	assert.Equal(t, ":Europe/Helsinki", e.TZ())
	assert.NotEmpty(t, dst.armedAt)
	assert.NotEmpty(t, notifier.calls)
}

func TestSetOperatorZoneRejectsEmptyZone(t *testing.T) {
	resolver := &fakeResolver{}
	e, clock, _, _ := newTestEngine(t, resolver)

	err := e.SetOperatorZone(context.Background(), "")
	assert.Error(t, err)
	assert.Empty(t, clock.setZoneCalls)
}

func TestActivateNetTimeNoopWhenNothingPending(t *testing.T) {
	resolver := &fakeResolver{}
	e, clock, _, _ := newTestEngine(t, resolver)

	ok, err := e.ActivateNetTime(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, clock.setTimeCalls)
}
