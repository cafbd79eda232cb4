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

// Package clockclient is the per-process client library (C10): a thin
// wrapper around the bus connection that any process on the device links
// against to read or change the daemon's time/zone state, with a
// short-lived read cache so a burst of callers querying the same value
// collapses into one bus round trip.
package clockclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sync/singleflight"
)

// Client wraps a lazily-established bus connection.
type Client struct {
	busName    string
	objectPath string
	iface      string

	mu   sync.Mutex
	conn *dbus.Conn

	group singleflight.Group

	cacheMu  sync.Mutex
	cacheTTL time.Duration
	cached   map[string]cacheEntry
}

type cacheEntry struct {
	value   interface{}
	expires time.Time
}

// New builds a Client targeting the given bus name/object path/interface.
// The connection itself is established lazily on first use.
func New(busName, objectPath, iface string) *Client {
	return &Client{
		busName:    busName,
		objectPath: objectPath,
		iface:      iface,
		cacheTTL:   time.Second,
		cached:     map[string]cacheEntry{},
	}
}

func (c *Client) object() (dbus.BusObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, fmt.Errorf("clockclient: connecting to bus: %w", err)
		}
		c.conn = conn
	}
	return c.conn.Object(c.busName, dbus.ObjectPath(c.objectPath)), nil
}

// Close releases the underlying bus connection, if one was ever opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// call invokes a method with no return value beyond the usual (bool, error)
// shape every set_* daemon method uses.
func (c *Client) call(ctx context.Context, method string, args ...interface{}) (bool, error) {
	obj, err := c.object()
	if err != nil {
		return false, err
	}

	var ok bool
	callCall := obj.CallWithContext(ctx, c.iface+"."+method, 0, args...)
	if callCall.Err != nil {
		return false, fmt.Errorf("clockclient: %s: %w", method, callCall.Err)
	}
	if err := callCall.Store(&ok); err != nil {
		return false, fmt.Errorf("clockclient: %s: decoding reply: %w", method, err)
	}
	c.invalidate()
	return ok, nil
}

// cachedGet coalesces concurrent identical reads via singleflight and
// caches the result for cacheTTL, the way a burst of callers asking
// "what's the current zone" right after a transition should see one bus
// round trip, not N.
func (c *Client) cachedGet(key string, fetch func() (interface{}, error)) (interface{}, error) {
	c.cacheMu.Lock()
	if entry, ok := c.cached[key]; ok && time.Now().Before(entry.expires) {
		c.cacheMu.Unlock()
		return entry.value, nil
	}
	c.cacheMu.Unlock()

	v, err, _ := c.group.Do(key, fetch)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cached[key] = cacheEntry{value: v, expires: time.Now().Add(c.cacheTTL)}
	c.cacheMu.Unlock()

	return v, nil
}

func (c *Client) invalidate() {
	c.cacheMu.Lock()
	c.cached = map[string]cacheEntry{}
	c.cacheMu.Unlock()
}

// SetTime sets the wall clock to tick (Unix seconds, UTC).
func (c *Client) SetTime(ctx context.Context, tick int64) (bool, error) {
	return c.call(ctx, "SetTime", tick)
}

// SetTimezone sets the system timezone.
func (c *Client) SetTimezone(ctx context.Context, zone string) (bool, error) {
	return c.call(ctx, "SetTimezone", zone)
}

// SetAutosync enables or disables operator-time autosync.
func (c *Client) SetAutosync(ctx context.Context, enabled bool) (bool, error) {
	return c.call(ctx, "SetAutosync", enabled)
}

// ActivateNetTime commits the last known operator time immediately.
func (c *Client) ActivateNetTime(ctx context.Context) (bool, error) {
	return c.call(ctx, "ActivateNetTime")
}

// SetTimeFormat sets the user-facing clock display format string.
func (c *Client) SetTimeFormat(ctx context.Context, format string) (bool, error) {
	return c.call(ctx, "SetTimeFormat", format)
}

func (c *Client) getString(ctx context.Context, method string) (string, error) {
	v, err := c.cachedGet(method, func() (interface{}, error) {
		obj, err := c.object()
		if err != nil {
			return "", err
		}
		var s string
		if err := obj.CallWithContext(ctx, c.iface+"."+method, 0).Store(&s); err != nil {
			return "", fmt.Errorf("clockclient: %s: %w", method, err)
		}
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) getBool(ctx context.Context, method string) (bool, error) {
	v, err := c.cachedGet(method, func() (interface{}, error) {
		obj, err := c.object()
		if err != nil {
			return false, err
		}
		var b bool
		if err := obj.CallWithContext(ctx, c.iface+"."+method, 0).Store(&b); err != nil {
			return false, fmt.Errorf("clockclient: %s: %w", method, err)
		}
		return b, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// TimeFormat returns the current display format string.
func (c *Client) TimeFormat(ctx context.Context) (string, error) { return c.getString(ctx, "GetTimeFormat") }

// DefaultTZ returns the daemon's default timezone, taken from its
// CLOCKD_DEFAULT_TZ environment variable at startup.
func (c *Client) DefaultTZ(ctx context.Context) (string, error) { return c.getString(ctx, "GetDefaultTZ") }

// TZ returns the current system timezone.
func (c *Client) TZ(ctx context.Context) (string, error) { return c.getString(ctx, "GetTZ") }

// Autosync reports whether operator-time autosync is enabled.
func (c *Client) Autosync(ctx context.Context) (bool, error) { return c.getBool(ctx, "GetAutosync") }

// HaveOperatorTime reports whether operator network time is available on
// this device, as set from the daemon's CLOCKD_NET_TIME environment at
// startup. It does not report whether an operator time is pending; see
// NetTimeChanged for that.
func (c *Client) HaveOperatorTime(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "HaveOperatorTime")
}

// Now returns the daemon's view of the current wall clock.
func (c *Client) Now(ctx context.Context) (int64, error) {
	v, err := c.cachedGet("GetTime", func() (interface{}, error) {
		obj, err := c.object()
		if err != nil {
			return int64(0), err
		}
		var tick int64
		if err := obj.CallWithContext(ctx, c.iface+".GetTime", 0).Store(&tick); err != nil {
			return int64(0), fmt.Errorf("clockclient: GetTime: %w", err)
		}
		return tick, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// NetTimeChanged returns the pending operator time (0, "" if none).
func (c *Client) NetTimeChanged(ctx context.Context) (int64, string, error) {
	obj, err := c.object()
	if err != nil {
		return 0, "", err
	}
	var tick int64
	var zone string
	if err := obj.CallWithContext(ctx, c.iface+".NetTimeChanged", 0).Store(&tick, &zone); err != nil {
		return 0, "", fmt.Errorf("clockclient: NetTimeChanged: %w", err)
	}
	return tick, zone, nil
}
