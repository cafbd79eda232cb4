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

// Package clockdaemon wires C1 through C9 into one process: it owns the
// privileged-helper client, the MCC zone resolver, the DST scheduler, the
// reconciliation engine, the bus dispatcher, the monitoring server and the
// signal lifecycle, and runs them all until told to stop.
package clockdaemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clockd/clockd/dispatch"
	"github.com/clockd/clockd/dstsched"
	"github.com/clockd/clockd/lifecycle"
	"github.com/clockd/clockd/monitoring"
	"github.com/clockd/clockd/opsconfig"
	"github.com/clockd/clockd/privhelper"
	"github.com/clockd/clockd/reconcile"
	"github.com/clockd/clockd/tzresolver"
	"github.com/clockd/clockd/tzutil"
)

// cityInfoFile adapts a flat "Country<TAB>Zone" file to
// tzresolver.CityInfoSource, the same shape the MCC mapping file uses so a
// single format serves both lookups.
type cityInfoFile struct {
	path string
}

func (c cityInfoFile) ForEach(fn func(tzresolver.CityRecord) bool) error {
	f, err := os.Open(c.path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		if !fn(tzresolver.CityRecord{Country: parts[0], Zone: parts[1]}) {
			break
		}
	}
	return scanner.Err()
}

// Daemon is the top-level process wiring.
type Daemon struct {
	cfg       opsconfig.Config
	engine    *reconcile.Engine
	resolver  *tzresolver.Resolver
	scheduler *dstsched.Scheduler
	dispatch  *dispatch.Dispatcher
	stats     *monitoring.Stats
	mon       *monitoring.Server
	life      *lifecycle.Lifecycle
}

// New builds every component but does not yet touch the bus, the helper
// binary, or disk — call Run to start.
func New(cfg opsconfig.Config) (*Daemon, error) {
	helper := privhelper.New(cfg.HelperPath)
	cities := cityInfoFile{path: cfg.MCCMappingPath}
	resolver := tzresolver.New(cfg.MCCMappingPath, cities)

	stats := monitoring.NewStats()

	d := &Daemon{cfg: cfg, resolver: resolver, stats: stats}

	d.scheduler = dstsched.New(d.isDST, d.onDSTChange)

	d.engine = reconcile.New(helper, resolver, d.scheduler, d, reconcile.Options{
		ConfigPath:    cfg.UserConfigPath,
		LocaltimePath: "/etc/localtime",
	})

	return d, nil
}

func (d *Daemon) isDST(tick time.Time) bool {
	return tzutil.GetDST(tick, d.engine.TZ())
}

// TimeChanged satisfies reconcile.Notifier by forwarding to the bus
// dispatcher, once one is attached (it isn't yet during New, since
// dispatch.Connect needs the engine to exist first — the two are wired
// together in Run).
func (d *Daemon) TimeChanged(tick int64) error {
	d.stats.Inc("time_changed_total")
	if d.dispatch == nil {
		return nil
	}
	return d.dispatch.TimeChanged(tick)
}

func (d *Daemon) onDSTChange() {
	d.stats.Inc("dst_transitions_total")
	log.Info("clockdaemon: DST boundary crossed, notifying listeners")
	if err := d.TimeChanged(0); err != nil {
		log.WithError(err).Warn("clockdaemon: DST change broadcast failed")
	}
}

// OnRegistrationStatus implements dispatch.RegistrationObserver.
func (d *Daemon) OnRegistrationStatus(status uint8, mcc uint32) bool {
	changed := d.resolver.OnRegistrationStatus(status, mcc)
	if changed {
		d.stats.Set("mcc_current", int64(d.resolver.MCC()))
	}
	return changed
}

// Candidates implements dispatch.RegistrationObserver, exposing the
// resolver's current MCC candidate list for the unsupported-operator
// fallback.
func (d *Daemon) Candidates() []string {
	return d.resolver.Candidates()
}

// DumpState implements lifecycle.StateDumper.
func (d *Daemon) DumpState() interface{} {
	return map[string]interface{}{
		"tz":          d.engine.TZ(),
		"autosync":    d.engine.Autosync(),
		"time_format": d.engine.TimeFormat(),
		"mcc":         d.resolver.MCC(),
		"candidates":  d.resolver.Candidates(),
		"stats":       d.stats.Snapshot(),
	}
}

// Run starts the bus connection, the monitoring server, the signal
// lifecycle, and blocks until ctx is cancelled, a shutdown signal is
// handled, or a fatal error occurs.
func (d *Daemon) Run(ctx context.Context) error {
	d.engine.InitFromEnvironment()
	if err := d.engine.LoadConfig(ctx); err != nil {
		return fmt.Errorf("clockdaemon: loading configuration: %w", err)
	}

	// Mirrors server_init's unconditional next_dst_change(time(0), 1) at
	// boot: exactly one DST timer must be outstanding at all times, even if
	// no commit happens before the first transition.
	d.scheduler.Arm(time.Now(), true)

	bus, err := dispatch.Connect(d.engine, d, d.cfg)
	if err != nil {
		return fmt.Errorf("clockdaemon: connecting to bus: %w", err)
	}
	d.dispatch = bus
	defer d.dispatch.Close()

	d.mon = monitoring.NewServer(d.cfg.MonitoringAddr, d.stats)

	if install, _ := d.resolver.EnsureSubscription(d.engine.Autosync()); install {
		log.Debug("clockdaemon: subscribing to registration-status updates")
	}

	lifecycle.LogStartupDiagnostics()
	if err := lifecycle.NotifyReady(); err != nil {
		log.WithError(err).Warn("clockdaemon: systemd readiness notification failed")
	}

	d.life = lifecycle.New(lifecycle.Hooks{
		OnReload:   func() error { return d.engine.LoadConfig(ctx) },
		OnShutdown: func() { d.engine.Shutdown() },
		Dumper:     d,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.dispatch.Run(gctx) })
	group.Go(func() error { return d.mon.ListenAndServe(gctx) })
	group.Go(func() error { d.life.Run(gctx); cancel(); return nil })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
