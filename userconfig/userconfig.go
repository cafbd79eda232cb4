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

// Package userconfig persists the small per-user settings file
// ($HOME/.clockd.conf): a line-oriented key=value format with very specific,
// deliberately preserved corner cases (comments via a leading '#', no
// trimming, lines without '=' silently skipped). It is hand-rolled rather
// than delegated to an INI library because those libraries normalize
// whitespace and comment handling in ways that would violate this format's
// exact round-trip guarantees — see DESIGN.md.
package userconfig

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Config is the in-memory mirror of the on-disk key=value file.
type Config struct {
	TimeFormat string
	Autosync   bool
	NetTZ      string
	SystemTZ   string

	// RestoreTZ is the supplemented one-shot key: if present at startup, it
	// is applied once via the privileged helper and then cleared, never
	// written back out. See SPEC_FULL.md §6.
	RestoreTZ string
}

// Read loads path, tolerating a missing file (returns a zero Config, no
// error is fatal per §4.8's "any error is logged but non-fatal" policy —
// callers that care about "file existed" should stat it themselves).
func Read(path string) (Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		log.Debugf("userconfig: failed to read %s (%v)", path, err)
		return cfg, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		line = strings.TrimRight(line, "\r")

		if strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}

		key := line[:idx]
		value := line[idx+1:]

		switch key {
		case "time_format":
			cfg.TimeFormat = value
			log.Debugf("userconfig: read_conf: time_format=%s", cfg.TimeFormat)
		case "autosync":
			n, _ := strconv.Atoi(value)
			cfg.Autosync = n > 0
			log.Debugf("userconfig: read_conf: autosync=%v", cfg.Autosync)
		case "net_tz":
			cfg.NetTZ = value
			log.Debugf("userconfig: read_conf: net_tz=%s", cfg.NetTZ)
		case "restore_tz":
			cfg.RestoreTZ = value
			log.Debugf("userconfig: read_conf: restore_tz=%s", cfg.RestoreTZ)
		}
	}

	return cfg, scanner.Err()
}

// Save writes path atomically-enough for a single-writer daemon: it unlinks
// and recreates the file, then emits the four persisted keys in a fixed
// order. restore_tz is never written — it is a one-shot startup directive,
// not steady-state config. Any I/O error is logged and returned; callers
// treat this as non-fatal per §7.
func Save(path string, cfg Config) error {
	_ = os.Remove(path)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		log.Errorf("userconfig: failed to open configuration file %s (%v)", path, err)
		return err
	}
	defer f.Close()

	netTZ := cfg.NetTZ
	if strings.HasPrefix(netTZ, ":") {
		netTZ = ""
	}

	autosync := 0
	if cfg.Autosync {
		autosync = 1
	}

	_, err = fmt.Fprintf(f, "time_format=%s\nautosync=%d\nnet_tz=%s\nsystem_tz=%s\n",
		cfg.TimeFormat, autosync, netTZ, cfg.SystemTZ)
	if err != nil {
		log.Errorf("userconfig: failed to write %s (%v)", path, err)
		return err
	}

	log.Debugf("userconfig: configuration file %s saved", path)
	return nil
}

// ReadSystemTZ reads the /etc/localtime symlink target for persistence in
// system_tz, returning "" if the link is missing or self-referential.
func ReadSystemTZ(localtimePath string) string {
	target, err := os.Readlink(localtimePath)
	if err != nil || target == localtimePath {
		return ""
	}
	return target
}
