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

// Package reconcile is the core state machine: it owns the wall clock/zone/
// autosync/saved-operator-zone state, merges incoming operator time-info
// against it, and drives the user-initiated set_* operations. Every method
// here runs on the single event-loop goroutine; nothing in this package
// takes a lock.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clockd/clockd/tzresolver"
	"github.com/clockd/clockd/tzutil"
	"github.com/clockd/clockd/userconfig"
	"github.com/clockd/clockd/wire"
)

// Clock is the subset of privhelper.Client the engine needs to commit
// mutations through the privilege-separated writer.
type Clock interface {
	SetTime(ctx context.Context, tick int64) error
	SetZone(ctx context.Context, zone string) error
}

// Notifier broadcasts the dual time-change signals (§4.6): tick is the new
// wall clock value when the clock itself changed, or 0 when only a
// non-clock setting (zone, format, autosync) changed.
type Notifier interface {
	TimeChanged(tick int64) error
}

// ZoneGuesser is the subset of *tzresolver.Resolver the engine depends on.
type ZoneGuesser interface {
	GuessZone(utc time.Time, dst int, gmtOffsetSec int) (string, bool)
	Candidates() []string
	EnsureSubscription(autosync bool) (install, remove bool)
}

// DSTArmer is the subset of *dstsched.Scheduler the engine depends on.
type DSTArmer interface {
	Arm(tick time.Time, keepTimer bool)
	Stop()
}

// Options configures a new Engine; all paths/values have the same defaults
// the original compiled in.
type Options struct {
	ConfigPath    string
	LocaltimePath string // normally /etc/localtime
}

// Engine holds every piece of state spec.md §3 assigns to the
// reconciliation engine.
type Engine struct {
	clock    Clock
	resolver ZoneGuesser
	dst      DSTArmer
	notifier Notifier
	opts     Options

	autosync           bool
	netTimeSetting     bool // operator-time availability, from CLOCKD_NET_TIME
	netTimeDisabledEnv bool // CLOCKD_NET_TIME=disabled permanently locks set_autosync(true)

	netTimeChangedTime int64     // last accepted operator UTC tick, 0 = none pending
	netTimeChangedAt   time.Time // monotonic reading captured when it arrived

	savedOperatorZone string // canonical colon-prefixed form, "" = never set
	serverTZ          string // colon-prefixed for zoneinfo references; an inline POSIX rule is kept as given
	defaultTZ         string
	timeFormat        string
}

// New constructs an Engine. Nothing is loaded from environment or disk yet;
// call InitFromEnvironment and LoadConfig during startup, mirroring
// server_init's sequencing.
func New(clock Clock, resolver ZoneGuesser, dst DSTArmer, notifier Notifier, opts Options) *Engine {
	return &Engine{clock: clock, resolver: resolver, dst: dst, notifier: notifier, opts: opts}
}

// InitFromEnvironment implements server_init_autosync/server_init_time_format/
// server_init_default_tz: three independent environment variables read once
// at startup.
func (e *Engine) InitFromEnvironment() {
	switch os.Getenv("CLOCKD_NET_TIME") {
	case "disabled":
		e.netTimeSetting = false
		e.autosync = false
		e.netTimeDisabledEnv = true
		log.Debug("reconcile: default network time setting is disabled")
	case "yes":
		e.netTimeSetting = true
		e.autosync = true
		log.Debug("reconcile: default network time setting is enabled, autosync is on")
	case "no":
		e.netTimeSetting = true
		e.autosync = false
		log.Debug("reconcile: default network time setting is enabled, autosync is off")
	case "":
		// unset: leave defaults
	default:
		log.Errorf("reconcile: invalid CLOCKD_NET_TIME=%q", os.Getenv("CLOCKD_NET_TIME"))
	}

	if format := os.Getenv("CLOCKD_TIME_FORMAT"); format != "" {
		e.timeFormat = format
		log.Debugf("reconcile: default time format set to %q", e.timeFormat)
	}

	if tz := os.Getenv("CLOCKD_DEFAULT_TZ"); tz != "" {
		e.defaultTZ = tz
		log.Debugf("reconcile: default timezone is %q", e.defaultTZ)
	}
}

// LoadConfig implements read_conf plus the restore_tz one-shot apply and the
// /etc/localtime-derived startup zone, both from server_init. ctx is used
// only for the one-shot restore_tz commit.
func (e *Engine) LoadConfig(ctx context.Context) error {
	cfg, err := userconfig.Read(e.opts.ConfigPath)
	if err != nil {
		log.Debugf("reconcile: no configuration file at %s (%v)", e.opts.ConfigPath, err)
	} else {
		e.timeFormat = cfg.TimeFormat
		if !e.netTimeDisabledEnv {
			e.autosync = cfg.Autosync
		} else {
			log.Debug("reconcile: autosync disabled by env, ignoring config value")
		}
		e.serverTZ = cfg.NetTZ
	}

	if cfg.RestoreTZ != "" {
		if err := e.clock.SetZone(ctx, cfg.RestoreTZ); err != nil {
			log.WithError(err).Warn("reconcile: restore_tz commit failed")
		}
		e.saveConfig()
	}

	if e.serverTZ == "" {
		if target, err := os.Readlink(e.opts.LocaltimePath); err == nil {
			const zoneinfoPrefix = "/usr/share/zoneinfo/"
			if strings.HasPrefix(target, zoneinfoPrefix) {
				e.serverTZ = ":" + strings.TrimPrefix(target, zoneinfoPrefix)
			} else {
				e.serverTZ = ":" + target
			}
		}
	}

	log.Debugf("reconcile: timezone set to %q, operator time is %v, autosync is %v, format is %q",
		e.serverTZ, e.netTimeSetting, e.autosync, e.timeFormat)

	return nil
}

func (e *Engine) saveConfig() {
	cfg := userconfig.Config{
		TimeFormat: e.timeFormat,
		Autosync:   e.autosync,
		NetTZ:      e.serverTZ,
		SystemTZ:   userconfig.ReadSystemTZ(e.opts.LocaltimePath),
	}
	if err := userconfig.Save(e.opts.ConfigPath, cfg); err != nil {
		log.WithError(err).Warn("reconcile: save_conf failed")
	}
}

func (e *Engine) broadcast(changed bool, tick int64) {
	if !changed {
		return
	}
	if err := e.notifier.TimeChanged(tick); err != nil {
		log.WithError(err).Warn("reconcile: broadcast failed")
	}
}

// ErrOperatorUnsupported is surfaced when the operator declares (via the
// all-sentinel encoding) that it has no network time to offer; callers use
// this to trigger the MCC-only fallback.
var ErrOperatorUnsupported = wire.ErrUnsupported

const etcGMTPrefix = "Etc/GMT"

// HandleOperatorTime implements handle_csd_net_time_change end to end:
// decode, resolve the zone, decide whether time and/or zone actually
// changed, commit, persist, re-arm the DST scheduler, and broadcast.
func (e *Engine) HandleOperatorTime(ctx context.Context, values []int32) error {
	now := time.Now()

	ot, err := wire.DecodeOperatorTime(values, now)
	if err != nil {
		return err
	}

	utcTick := time.Date(ot.Year+1900, time.Month(ot.Mon+1), ot.Mday, ot.Hour, ot.Min, ot.Sec, 0, time.UTC)

	var zone string
	if ot.TZQuarter == wire.Sentinel {
		log.Debug("reconcile: keeping current tz, network sent no tz info")
		zone = e.savedOperatorZone
	} else {
		guessed, ok := e.resolver.GuessZone(utcTick, ot.DST, 900*ot.TZQuarter)
		if ok {
			zone = guessed
		}
	}

	if zone == "" {
		zone = tzutil.FormatQuarterZone(ot.TZQuarter)
		log.Warnf("reconcile: TZ guessing failed, using %q", zone)
	}

	localNew, err := tzutil.LocaltimeIn(utcTick, zone)
	if err != nil {
		return fmt.Errorf("reconcile: localtime_in(%s) failed: %w", zone, err)
	}
	_, gmtoffNew := localNew.Zone()

	localOld, err := tzutil.LocaltimeIn(utcTick, e.currentZoneOrUTC())
	var gmtoffOld int
	if err == nil {
		_, gmtoffOld = localOld.Zone()
	}

	e.netTimeChangedTime = utcTick.Unix()
	e.netTimeChangedAt = now

	// Corner case (§4.6 step 6): keep saved_operator_zone unchanged when the
	// new zone is the same object we reused, or when the saved zone is
	// "real" (non-empty, non-fallback) or the new zone is itself a fallback,
	// AND offsets agree AND the saved zone is still in the candidate list.
	keepSaved := zone == e.savedOperatorZone ||
		(((e.savedOperatorZone != "" && !strings.Contains(e.savedOperatorZone, etcGMTPrefix)) ||
			strings.Contains(zone, etcGMTPrefix)) &&
			gmtoffOld == gmtoffNew &&
			tzresolver.IsZoneInCountryList(e.resolver.Candidates(), e.savedOperatorZone))

	if keepSaved {
		log.Debug("reconcile: corner case, saved_operator_zone kept unchanged")
	} else if strings.HasPrefix(zone, ":") {
		e.savedOperatorZone = zone
	} else {
		e.savedOperatorZone = ":" + zone
	}

	timeChanged := now.Unix() != utcTick.Unix()
	zoneChanged := e.savedOperatorZone != "" &&
		(!tzutil.ZonesEquivalent(e.serverTZ, e.savedOperatorZone) ||
			!tzresolver.IsZoneInCountryList(e.resolver.Candidates(), e.serverTZ))

	if timeChanged && e.autosync {
		if err := e.commitTime(ctx, utcTick.Unix()); err != nil {
			return fmt.Errorf("reconcile: time commit failed: %w", err)
		}
	}

	if zoneChanged && e.autosync {
		e.serverTZ = e.savedOperatorZone
		if err := e.commitZone(ctx, e.serverTZ); err != nil {
			log.WithError(err).Error("reconcile: timezone commit failed")
		}
	}

	e.broadcast(timeChanged || zoneChanged, pick(timeChanged, utcTick.Unix()))
	e.saveConfig()

	return nil
}

func pick(cond bool, v int64) int64 {
	if cond {
		return v
	}
	return 0
}

func (e *Engine) currentZoneOrUTC() string {
	if e.serverTZ == "" {
		return "UTC"
	}
	return e.serverTZ
}

func (e *Engine) commitTime(ctx context.Context, tick int64) error {
	if err := e.clock.SetTime(ctx, tick); err != nil {
		return err
	}
	e.dst.Arm(time.Unix(tick, 0), false)
	return nil
}

func (e *Engine) commitZone(ctx context.Context, zone string) error {
	if err := e.clock.SetZone(ctx, zone); err != nil {
		return err
	}
	e.dst.Arm(time.Now(), false)
	return nil
}

// SetOperatorZone implements server_set_operator_tz_cb / mcc_tz_set_tz_from_mcc:
// the country-only fallback used when the operator has declared (via the
// all-sentinel encoding, ErrOperatorUnsupported) that it carries no network
// time, but its MCC maps to exactly one candidate zone. Unlike
// HandleOperatorTime this is not a guess: the caller already decided zone is
// the single acceptable candidate, so it is committed unconditionally.
func (e *Engine) SetOperatorZone(ctx context.Context, zone string) error {
	if zone == "" {
		return fmt.Errorf("reconcile: set_operator_zone called with empty zone")
	}

	// server_set_operator_tz_cb stores the MCC-fallback zone in colon-prefixed
	// canonical form unconditionally (snprintf(..., ":%s", tz)), unlike
	// NormalizeZone's TZ-environment-variable shaping rule.
	normalized := zone
	if !strings.HasPrefix(normalized, ":") {
		normalized = ":" + normalized
	}
	e.savedOperatorZone = normalized
	e.serverTZ = normalized

	if err := e.commitZone(ctx, e.serverTZ); err != nil {
		return fmt.Errorf("reconcile: set_operator_zone commit failed: %w", err)
	}

	e.saveConfig()
	e.broadcast(true, 0)
	return nil
}

// SetTime implements the user-initiated set_time method.
func (e *Engine) SetTime(ctx context.Context, tick int64) (bool, error) {
	if err := e.commitTime(ctx, tick); err != nil {
		log.WithError(err).Error("reconcile: set_time failed")
		return false, nil
	}
	e.saveConfig()
	e.broadcast(true, tick)
	return true, nil
}

// SetTimezone implements set_timezone: colon-prefixed zones go straight to
// the privileged helper; anything else must pass the shape test before it
// is accepted as a POSIX-style inline rule.
func (e *Engine) SetTimezone(ctx context.Context, zone string) (bool, error) {
	if zone == "" || len(zone) > tzutil.MaxZoneLen {
		log.Errorf("reconcile: invalid time zone %q", zone)
		e.saveConfig()
		return false, nil
	}

	var ok bool
	if strings.HasPrefix(zone, ":") {
		ok = e.clock.SetZone(ctx, zone) == nil
	} else {
		ok = tzutil.CheckTimezoneShape(zone)
	}

	if ok {
		e.serverTZ = zone
	}

	e.saveConfig()

	if ok {
		e.dst.Arm(time.Now(), false)
		e.broadcast(true, 0)
	}

	return ok, nil
}

// SetAutosync implements set_autosync, including the permanent
// CLOCKD_NET_TIME=disabled lock (SPEC_FULL.md §6).
func (e *Engine) SetAutosync(ctx context.Context, enabled bool) (bool, error) {
	if enabled && e.netTimeDisabledEnv {
		log.Error("reconcile: set_autosync(true) refused, feature disabled by environment")
		return false, nil
	}

	log.Debugf("reconcile: autosync %v -> %v", e.autosync, enabled)
	e.autosync = enabled

	if e.autosync && e.netTimeChangedTime != 0 {
		if _, err := e.ActivateNetTime(ctx); err != nil {
			log.WithError(err).Warn("reconcile: activate_net_time during set_autosync failed")
		}
	}

	if install, remove := e.resolver.EnsureSubscription(e.autosync); install || remove {
		log.Debugf("reconcile: registration-status subscription install=%v remove=%v", install, remove)
	}

	e.saveConfig()
	e.broadcast(true, 0)
	return true, nil
}

// ActivateNetTime implements activate_net_time: project the last accepted
// operator time forward by elapsed monotonic time and commit it.
func (e *Engine) ActivateNetTime(ctx context.Context) (bool, error) {
	if e.netTimeChangedTime == 0 {
		return false, nil
	}

	elapsed := time.Since(e.netTimeChangedAt)
	tick := e.netTimeChangedTime + int64(elapsed.Seconds())

	if err := e.commitTime(ctx, tick); err != nil {
		return false, err
	}

	if e.savedOperatorZone != "" && !tzutil.ZonesEquivalent(e.serverTZ, e.savedOperatorZone) {
		e.serverTZ = e.savedOperatorZone
		if err := e.commitZone(ctx, e.serverTZ); err != nil {
			log.WithError(err).Warn("reconcile: activate_net_time zone commit failed")
		}
	}

	e.saveConfig()
	e.broadcast(true, tick)
	return true, nil
}

// SetTimeFormat implements set_time_format.
func (e *Engine) SetTimeFormat(fmtStr string) (bool, error) {
	if fmtStr == "" || len(fmtStr) > 31 {
		return false, nil
	}
	e.timeFormat = fmtStr
	e.saveConfig()
	e.broadcast(true, 0)
	return true, nil
}

// OnModeChange implements the signal filter's mode-change rule: leaving
// normal mode clears any pending operator time.
func (e *Engine) OnModeChange() {
	if e.netTimeChangedTime != 0 {
		log.Debug("reconcile: mode change, clearing pending operator time")
		e.netTimeChangedTime = 0
	}
}

// NetTimeChanged implements net_time_changed: projects the pending operator
// time forward, or returns (0, "") if none is pending.
func (e *Engine) NetTimeChanged() (int64, string) {
	if e.netTimeChangedTime == 0 {
		return 0, ""
	}
	elapsed := time.Since(e.netTimeChangedAt)
	return e.netTimeChangedTime + int64(elapsed.Seconds()), e.savedOperatorZone
}

// Getters mirror the pure-read server_get_*_cb handlers.
func (e *Engine) TimeFormat() string     { return e.timeFormat }
func (e *Engine) DefaultTZ() string      { return e.defaultTZ }
func (e *Engine) TZ() string             { return e.serverTZ }
func (e *Engine) Autosync() bool         { return e.autosync }
func (e *Engine) HaveOperatorTime() bool { return e.netTimeSetting }
func (e *Engine) Now() int64             { return time.Now().Unix() }

// Shutdown cancels the outstanding DST timer.
func (e *Engine) Shutdown() {
	e.dst.Stop()
}
