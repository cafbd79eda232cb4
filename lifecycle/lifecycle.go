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

// Package lifecycle is the signal/startup plumbing (C9): graceful shutdown
// on INT/QUIT/TERM, config reload on HUP, a debug-logging toggle on USR1
// (switching debug on also dumps the full in-memory state to the log),
// systemd readiness notification, and a one-line startup diagnostic.
package lifecycle

import (
	"context"
	"os"
	"os/signal"

	"github.com/coreos/go-systemd/daemon"
	"github.com/davecgh/go-spew/spew"
	"github.com/shirou/gopsutil/host"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// StateDumper is implemented by whatever owns the process-wide state the
// operator wants dumped on SIGUSR1 (normally the top-level daemon struct).
type StateDumper interface {
	DumpState() interface{}
}

// Hooks bundles the callbacks Lifecycle invokes for each signal it handles.
// Any hook may be nil, in which case that hook's step is skipped.
type Hooks struct {
	OnReload   func() error // SIGHUP
	OnShutdown func()       // SIGINT, SIGQUIT, SIGTERM
	Dumper     StateDumper  // SIGUSR1
}

// Lifecycle owns the signal channel and runs the dispatch loop.
type Lifecycle struct {
	hooks Hooks
}

// New constructs a Lifecycle with the given hooks.
func New(hooks Hooks) *Lifecycle {
	return &Lifecycle{hooks: hooks}
}

// Run blocks, handling signals, until ctx is cancelled or a
// shutdown-triggering signal arrives. It returns after invoking
// OnShutdown (if any).
func (l *Lifecycle) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGUSR1, unix.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case sig := <-sigCh:
			switch sig {
			case unix.SIGHUP:
				l.reload()
			case unix.SIGUSR1:
				l.dump()
			case unix.SIGINT, unix.SIGQUIT, unix.SIGTERM:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lifecycle) reload() {
	if l.hooks.OnReload == nil {
		return
	}
	log.Info("lifecycle: SIGHUP received, reloading configuration")
	if err := l.hooks.OnReload(); err != nil {
		log.WithError(err).Error("lifecycle: reload failed")
	}
}

func (l *Lifecycle) dump() {
	if log.GetLevel() >= log.DebugLevel {
		log.SetLevel(log.InfoLevel)
		log.Info("lifecycle: SIGUSR1 received, debug logging off")
		return
	}
	log.SetLevel(log.DebugLevel)
	log.Info("lifecycle: SIGUSR1 received, debug logging on")
	if l.hooks.Dumper == nil {
		return
	}
	log.Debug(spew.Sdump(l.hooks.Dumper.DumpState()))
}

func (l *Lifecycle) shutdown() {
	log.Warning("lifecycle: graceful shutdown")
	if l.hooks.OnShutdown != nil {
		l.hooks.OnShutdown()
	}
}

// NotifyReady tells systemd (when supervised with Type=notify) that startup
// is complete. It is a no-op, not an error, under any other supervisor.
func NotifyReady() error {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return err
	}
	if !supported {
		log.Debug("lifecycle: systemd notify socket not present, skipping READY=1")
	}
	return nil
}

// LogStartupDiagnostics logs the host uptime at process start, the same
// single diagnostic line the original emitted via syslog on boot.
func LogStartupDiagnostics() {
	uptime, err := host.Uptime()
	if err != nil {
		log.WithError(err).Debug("lifecycle: host uptime unavailable")
		return
	}
	log.Infof("lifecycle: starting, host uptime is %ds", uptime)
}
