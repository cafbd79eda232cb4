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

// Package dispatch is the transport layer (C7): it owns the bus connection,
// exports the method table the reconciliation engine implements, filters
// the inbound operator-time/mode-change/registration-status signals, and
// emits the outbound time-change notification. Everything here runs on a
// single goroutine, matching spec.md §5's single-threaded event loop.
package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"

	"github.com/clockd/clockd/opsconfig"
	"github.com/clockd/clockd/reconcile"
)

// Engine is the subset of *reconcile.Engine the dispatcher drives. Kept
// narrow so tests can substitute a fake without standing up godbus.
type Engine interface {
	HandleOperatorTime(ctx context.Context, values []int32) error
	SetOperatorZone(ctx context.Context, zone string) error
	SetTime(ctx context.Context, tick int64) (bool, error)
	SetTimezone(ctx context.Context, zone string) (bool, error)
	SetAutosync(ctx context.Context, enabled bool) (bool, error)
	ActivateNetTime(ctx context.Context) (bool, error)
	SetTimeFormat(format string) (bool, error)
	OnModeChange()
	NetTimeChanged() (int64, string)
	TimeFormat() string
	DefaultTZ() string
	TZ() string
	Autosync() bool
	HaveOperatorTime() bool
	Now() int64
}

const (
	// signalOperatorTime is the inbound network-time-info signal.
	signalOperatorTime = "com.nokia.csd.CSNet.NetworkTimeInfo"
	// signalModeChange fires when the device changes flight/normal mode.
	signalModeChange = "com.nokia.mce.signal.sig_device_mode_ind"
	// signalRegistrationStatus carries the current MCC/registration state.
	signalRegistrationStatus = "com.nokia.csd.CSNet.RegistrationStatus"

	// legacySignalChanged is the 64-bit-tick legacy broadcast kept
	// alongside the documented one for pre-existing listeners.
	legacySignalChanged = "changed"
	// legacyPath/legacyInterface address the legacy broadcast.
	legacyPath      = "/com/nokia/time"
	legacyInterface = "com.nokia.time"
	// signalTimeChanged is the documented broadcast name.
	signalTimeChanged = "time_changed"

	// csdService/csdPath/csdInterface/csdGetNetworkTimeInfo address the
	// network-time-info method the dispatcher polls on a registration
	// change, mirroring CSD_SERVICE/CSD_PATH/CSD_INTERFACE/
	// CSD_GET_NETWORK_TIMEINFO.
	csdService            = "com.nokia.phone.net"
	csdPath               = "/com/nokia/phone/net"
	csdInterface          = "Phone.Net"
	csdGetNetworkTimeInfo = "get_network_time_info"
)

// RegistrationObserver receives registration-status signal bodies; the
// zone resolver implements it to rebuild its MCC candidate list and to
// report the resulting candidates for the unsupported-operator fallback.
type RegistrationObserver interface {
	OnRegistrationStatus(status uint8, mcc uint32) bool
	Candidates() []string
}

// Dispatcher owns the bus connection and routes method calls/signals to an
// Engine.
type Dispatcher struct {
	conn     *dbus.Conn
	engine   Engine
	registry RegistrationObserver
	cfg      opsconfig.Config

	timeInfoReplies chan *dbus.Call
}

// New wraps an already-authenticated connection. Use Connect for the usual
// system-bus case.
func New(conn *dbus.Conn, engine Engine, registry RegistrationObserver, cfg opsconfig.Config) *Dispatcher {
	return &Dispatcher{
		conn:            conn,
		engine:          engine,
		registry:        registry,
		cfg:             cfg,
		timeInfoReplies: make(chan *dbus.Call, 4),
	}
}

// Connect dials the system bus, requests the configured well-known name,
// and exports the method table, mirroring server_init's bus setup.
func Connect(engine Engine, registry RegistrationObserver, cfg opsconfig.Config) (*Dispatcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}

	d := New(conn, engine, registry, cfg)
	if err := d.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) setup() error {
	reply, err := d.conn.RequestName(d.cfg.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		log.Warnf("dispatch: %s is already owned, running in a degraded, name-less mode", d.cfg.BusName)
	}

	if err := d.conn.Export((*methodTable)(d), dbus.ObjectPath(d.cfg.ObjectPath), d.cfg.Interface); err != nil {
		return err
	}

	for _, sig := range []string{signalOperatorTime, signalModeChange, signalRegistrationStatus} {
		dot := strings.LastIndexByte(sig, '.')
		rule := "type='signal',interface='" + sig[:dot] + "',member='" + sig[dot+1:] + "'"
		if err := d.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
			log.WithError(err).Warnf("dispatch: AddMatch failed for %s", sig)
		}
	}

	return nil
}

// Run drains signals until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	sigChan := make(chan *dbus.Signal, 16)
	d.conn.Signal(sigChan)
	defer d.conn.RemoveSignal(sigChan)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-sigChan:
			if !ok {
				return nil
			}
			d.handleSignal(ctx, sig)
		case call, ok := <-d.timeInfoReplies:
			if !ok {
				return nil
			}
			d.handleNetworkTimeInfoReply(ctx, call)
		}
	}
}

func (d *Dispatcher) handleSignal(ctx context.Context, sig *dbus.Signal) {
	switch sig.Name {
	case d.cfg.Interface + "." + signalOperatorTime, signalOperatorTime:
		values := make([]int32, 0, len(sig.Body))
		for _, v := range sig.Body {
			n, ok := v.(int32)
			if !ok {
				log.Warnf("dispatch: operator time signal carried non-int32 field %v", v)
				return
			}
			values = append(values, n)
		}
		if err := d.engine.HandleOperatorTime(ctx, values); err != nil {
			log.WithError(err).Debug("dispatch: operator time not applied")
		}
	case d.cfg.Interface + "." + signalModeChange, signalModeChange:
		d.engine.OnModeChange()
	case d.cfg.Interface + "." + signalRegistrationStatus, signalRegistrationStatus:
		if d.registry == nil || len(sig.Body) < 2 {
			return
		}
		status, _ := sig.Body[0].(uint8)
		mcc, _ := sig.Body[1].(uint32)
		changed := d.registry.OnRegistrationStatus(status, mcc)
		if changed && d.engine.Autosync() {
			d.requestNetworkTimeInfo()
		}
	default:
		log.Debugf("dispatch: ignoring unmatched signal %s", sig.Name)
	}
}

// requestNetworkTimeInfo implements mcc_tz_check_if_network_timeinfo_available:
// an async CSD get_network_time_info call issued whenever the registered MCC
// changes while autosync is on. The reply is delivered back onto the same
// goroutine that processes signals, via timeInfoReplies, keeping the engine
// single-threaded.
func (d *Dispatcher) requestNetworkTimeInfo() {
	if d.conn == nil {
		return
	}
	obj := d.conn.Object(csdService, dbus.ObjectPath(csdPath))
	obj.Go(csdInterface+"."+csdGetNetworkTimeInfo, 0, d.timeInfoReplies)
}

// handleNetworkTimeInfoReply implements mcc_tz_handle_network_timeinfo_reply:
// on success, decode the reply exactly like the NetworkTimeInfo signal body;
// if the operator turns out to declare no network time at all
// (ErrOperatorUnsupported), fall back to the MCC-only country zone.
func (d *Dispatcher) handleNetworkTimeInfoReply(ctx context.Context, call *dbus.Call) {
	if call.Err != nil {
		log.WithError(call.Err).Warn("dispatch: get_network_time_info call failed")
		return
	}

	values := make([]int32, 0, len(call.Body))
	for _, v := range call.Body {
		n, ok := v.(int32)
		if !ok {
			log.Warnf("dispatch: get_network_time_info reply carried non-int32 field %v", v)
			return
		}
		values = append(values, n)
	}

	err := d.engine.HandleOperatorTime(ctx, values)
	if err == nil {
		return
	}
	if !errors.Is(err, reconcile.ErrOperatorUnsupported) {
		log.WithError(err).Debug("dispatch: get_network_time_info reply not applied")
		return
	}
	d.fallbackToCountryZone(ctx)
}

// fallbackToCountryZone implements mcc_tz_set_tz_from_mcc: when the operator
// supports no network time but its MCC maps to exactly one candidate zone,
// commit that zone outright.
func (d *Dispatcher) fallbackToCountryZone(ctx context.Context) {
	if d.registry == nil {
		return
	}
	candidates := d.registry.Candidates()
	if len(candidates) != 1 {
		log.Debugf("dispatch: no single-candidate country zone to fall back to (have %d)", len(candidates))
		return
	}

	if err := d.engine.SetOperatorZone(ctx, candidates[0]); err != nil {
		log.WithError(err).Warn("dispatch: country-zone fallback failed")
	}
}

// TimeChanged implements reconcile.Notifier: it emits both the legacy and
// documented broadcasts (SPEC_FULL.md §6) whenever a commit is made.
func (d *Dispatcher) TimeChanged(tick int64) error {
	path := dbus.ObjectPath(d.cfg.ObjectPath)

	legacyErr := d.conn.Emit(dbus.ObjectPath(legacyPath), legacyInterface+"."+legacySignalChanged, tick)
	if legacyErr != nil {
		log.WithError(legacyErr).Debug("dispatch: legacy changed broadcast failed")
	}

	if err := d.conn.Emit(path, d.cfg.Interface+"."+signalTimeChanged, int32(tick)); err != nil {
		return err
	}
	return nil
}

// Close releases the bus connection.
func (d *Dispatcher) Close() error {
	return d.conn.Close()
}

// methodTable is exported on the bus; each method's signature follows
// godbus's convention of a trailing *dbus.Error return.
type methodTable Dispatcher

func (m *methodTable) SetTime(tick int64) (bool, *dbus.Error) {
	ok, err := (*Dispatcher)(m).engine.SetTime(context.Background(), tick)
	return ok, asDBusError(err)
}

func (m *methodTable) SetTimezone(zone string) (bool, *dbus.Error) {
	ok, err := (*Dispatcher)(m).engine.SetTimezone(context.Background(), zone)
	return ok, asDBusError(err)
}

func (m *methodTable) SetAutosync(enabled bool) (bool, *dbus.Error) {
	ok, err := (*Dispatcher)(m).engine.SetAutosync(context.Background(), enabled)
	return ok, asDBusError(err)
}

func (m *methodTable) ActivateNetTime() (bool, *dbus.Error) {
	ok, err := (*Dispatcher)(m).engine.ActivateNetTime(context.Background())
	return ok, asDBusError(err)
}

func (m *methodTable) SetTimeFormat(format string) (bool, *dbus.Error) {
	ok, err := (*Dispatcher)(m).engine.SetTimeFormat(format)
	return ok, asDBusError(err)
}

func (m *methodTable) GetTimeFormat() (string, *dbus.Error) {
	return (*Dispatcher)(m).engine.TimeFormat(), nil
}

func (m *methodTable) GetDefaultTZ() (string, *dbus.Error) {
	return (*Dispatcher)(m).engine.DefaultTZ(), nil
}

func (m *methodTable) GetTZ() (string, *dbus.Error) {
	return (*Dispatcher)(m).engine.TZ(), nil
}

func (m *methodTable) GetAutosync() (bool, *dbus.Error) {
	return (*Dispatcher)(m).engine.Autosync(), nil
}

func (m *methodTable) HaveOperatorTime() (bool, *dbus.Error) {
	return (*Dispatcher)(m).engine.HaveOperatorTime(), nil
}

func (m *methodTable) GetTime() (int64, *dbus.Error) {
	return (*Dispatcher)(m).engine.Now(), nil
}

func (m *methodTable) NetTimeChanged() (int64, string, *dbus.Error) {
	tick, zone := (*Dispatcher)(m).engine.NetTimeChanged()
	return tick, zone, nil
}

func asDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return dbus.NewError("com.nokia.clockd.Error", []interface{}{err.Error()})
}
