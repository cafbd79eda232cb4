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

// clockd-helper is the privilege-separated writer (C2). It is invoked as
// `clockd-helper clockd <tick-or-zone>` and performs exactly one mutation:
// either committing a wall-clock tick (settimeofday, falling back to the RTC
// ioctl) or swapping the /etc/localtime symlink. It intentionally does
// nothing else, so it can be made setuid-root without enlarging what root
// code runs.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

const sentinel = "clockd"

func main() {
	if len(os.Args) != 3 || os.Args[1] != sentinel {
		fmt.Fprintf(os.Stderr, "%s is for clockd usage only\n", os.Args[0])
		os.Exit(2)
	}

	arg := os.Args[2]
	var err error
	if isAllDigits(arg) {
		err = setTime(arg)
	} else {
		err = setZone(arg)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// setTime mirrors rclockd.c's set_time: try settimeofday, and only on
// failure fall back to the RTC device via RTC_SET_TIME.
func setTime(arg string) error {
	sec, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("clockd-helper: invalid tick %q: %w", arg, err)
	}

	tv := unix.Timeval{Sec: int64(sec), Usec: 0}
	if err := unix.Settimeofday(&tv); err == nil {
		return nil
	}

	return setRTC(int64(sec))
}

func setRTC(sec int64) error {
	fd, err := unix.Open("/dev/rtc", unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("clockd-helper: open /dev/rtc: %w", err)
	}
	defer unix.Close(fd)

	rt := unixRTCTime(sec)
	if err := unix.IoctlSetRTCTime(fd, &rt); err != nil {
		return fmt.Errorf("clockd-helper: ioctl RTC_SET_TIME: %w", err)
	}
	return nil
}

// unixRTCTime builds the broken-down UTC time the RTC ioctl expects, the Go
// equivalent of gmtime(&timer) in rclockd.c's set_time.
func unixRTCTime(sec int64) unix.RTCTime {
	u := time.Unix(sec, 0).UTC()
	return unix.RTCTime{
		Sec:   int32(u.Second()),
		Min:   int32(u.Minute()),
		Hour:  int32(u.Hour()),
		Mday:  int32(u.Day()),
		Mon:   int32(u.Month() - 1),
		Year:  int32(u.Year() - 1900),
		Wday:  int32(u.Weekday()),
		Yday:  int32(u.YearDay() - 1),
		Isdst: 0,
	}
}

// setZone mirrors rclockd.c's set_tz: resolve the path (absolute if the
// argument's second byte is '/', else relative to the zoneinfo tree), then
// rename the existing /etc/localtime aside and symlink the new path in,
// reverting the rename if the symlink step fails.
func setZone(arg string) error {
	if len(arg) < 2 {
		return fmt.Errorf("clockd-helper: zone argument too short: %q", arg)
	}

	var path string
	if arg[1] == '/' {
		path = arg[1:]
	} else {
		path = "/usr/share/zoneinfo/" + arg[1:]
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("clockd-helper: zone path %q not found: %w", path, err)
	}

	_ = os.Rename("/etc/localtime", "/etc/localtime.save")

	if err := os.Symlink(path, "/etc/localtime"); err != nil {
		if rerr := os.Rename("/etc/localtime.save", "/etc/localtime"); rerr != nil {
			return fmt.Errorf("clockd-helper: symlink failed (%v) and rename not recovered: %w", err, rerr)
		}
		return fmt.Errorf("clockd-helper: symlink failed, recovered previous localtime: %w", err)
	}

	return nil
}
