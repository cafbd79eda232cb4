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

// Package opsconfig loads the optional deployment-time tunables file: the
// knobs that were compiled-in constants in the original (bus name, MCC
// mapping path, DST scheduler window) and have no representation in the
// per-user settings file. Modeled after fbclock/daemon's YAML config.
package opsconfig

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config holds every deployment tunable. Default() supplies every value;
// EvalAndValidate() expands $HOME and parses dst_check_window.
// DSTCheckWindow is parsed but not read by the DST scheduler, which always
// uses its fixed dstsched.TwoWeeks window. MCCMappingPath is also read as
// the city-info source; there is no separate city-info path.
type Config struct {
	BusName           string        `yaml:"bus_name"`
	ObjectPath        string        `yaml:"object_path"`
	Interface         string        `yaml:"interface"`
	MCCMappingPath    string        `yaml:"mcc_mapping_path"`
	UserConfigPath    string        `yaml:"user_config_path"`
	HelperPath        string        `yaml:"helper_path"`
	MonitoringAddr    string        `yaml:"monitoring_addr"`
	DSTCheckWindow    time.Duration `yaml:"-"`
	DSTCheckWindowRaw string        `yaml:"dst_check_window"`
}

// Default returns the tunables the original compiled in.
func Default() Config {
	return Config{
		BusName:        "com.nokia.clockd",
		ObjectPath:     "/com/nokia/clockd",
		Interface:      "com.nokia.clockd",
		MCCMappingPath: "/usr/share/operator-wizard/mcc_mapping",
		UserConfigPath: "$HOME/.clockd.conf",
		HelperPath:     "/usr/bin/clockd-helper",
		MonitoringAddr: ":8121",
		DSTCheckWindow: 14 * 24 * time.Hour,
	}
}

// Load reads and unmarshals a YAML ops-config file over the defaults,
// mirroring fbclock/daemon/config.go's yaml.UnmarshalStrict pattern: unknown
// keys are a load error rather than silently ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg.EvalAndValidate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("opsconfig: read %s: %w", path, err)
	}

	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("opsconfig: parse %s: %w", path, err)
	}

	return cfg.EvalAndValidate()
}

// EvalAndValidate expands the home directory in UserConfigPath and parses
// the human-friendly DST window duration, if overridden.
func (c Config) EvalAndValidate() (Config, error) {
	if c.DSTCheckWindowRaw != "" {
		d, err := time.ParseDuration(c.DSTCheckWindowRaw)
		if err != nil {
			return c, fmt.Errorf("opsconfig: invalid dst_check_window %q: %w", c.DSTCheckWindowRaw, err)
		}
		c.DSTCheckWindow = d
	}

	if home := os.Getenv("HOME"); home != "" {
		c.UserConfigPath = expandHome(c.UserConfigPath, home)
	}

	if c.BusName == "" || c.ObjectPath == "" || c.Interface == "" {
		return c, fmt.Errorf("opsconfig: bus_name, object_path and interface must be set")
	}

	return c, nil
}

func expandHome(path, home string) string {
	const prefix = "$HOME"
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		return home + path[len(prefix):]
	}
	return path
}
