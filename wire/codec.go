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

// Package wire implements the transport-agnostic parts of the daemon's
// over-the-bus codec: broken-down-time encode/decode and the
// sentinel-laden operator network-time decode. Values already unmarshalled
// out of a D-Bus message body by the dispatch package arrive here as plain
// int32 slices; nothing in this package touches godbus directly, which
// keeps it trivial to unit test.
package wire

import (
	"fmt"
	"time"
)

// Sentinel is the operator convention for "field not available".
const Sentinel = 100

// BrokenDownTime mirrors struct tm's nine integer fields in wire order.
type BrokenDownTime struct {
	Sec   int32
	Min   int32
	Hour  int32
	Mday  int32
	Mon   int32
	Year  int32
	Wday  int32
	Yday  int32
	Isdst int32
}

// EncodeTM lays out the nine fields in the order encode_tm writes them.
func EncodeTM(tm BrokenDownTime) []int32 {
	return []int32{tm.Sec, tm.Min, tm.Hour, tm.Mday, tm.Mon, tm.Year, tm.Wday, tm.Yday, tm.Isdst}
}

// DecodeTM is the inverse of EncodeTM; it fails if fewer than 9 values are
// present, mirroring decode_tm's field-by-field int32 decode.
func DecodeTM(values []int32) (BrokenDownTime, error) {
	if len(values) < 9 {
		return BrokenDownTime{}, fmt.Errorf("wire: decode_tm: expected 9 fields, got %d", len(values))
	}
	return BrokenDownTime{
		Sec: values[0], Min: values[1], Hour: values[2], Mday: values[3],
		Mon: values[4], Year: values[5], Wday: values[6], Yday: values[7], Isdst: values[8],
	}, nil
}

// OperatorTime is the decoded, normalized result of decode_ctm: a UTC
// broken-down timestamp plus a signed quarter-hour TZ offset and a DST code,
// both of which may be the Sentinel value meaning "unknown".
type OperatorTime struct {
	Year, Mon, Mday, Hour, Min, Sec int
	TZQuarter                       int // signed, in units of 15 minutes; Sentinel if unknown
	DST                             int // 0, 1, 2, or Sentinel if unknown
}

// ErrUnsupported is returned when the operator has declared, via the
// all-sentinel encoding, that it does not support network time.
var ErrUnsupported = fmt.Errorf("wire: operator does not support network time")

// DecodeOperatorTime implements decode_ctm's field order and sentinel
// handling: year, mon, mday, hour, min, sec, tz-quarter (wire name: yday),
// dst-code (wire name: isdst). now is the UTC instant substituted for a
// partially-invalid timestamp; it only needs second precision.
func DecodeOperatorTime(values []int32, now time.Time) (OperatorTime, error) {
	if len(values) < 8 {
		return OperatorTime{}, fmt.Errorf("wire: decode_ctm: expected 8 fields, got %d", len(values))
	}

	year, mon, mday, hour, min, sec := values[0], values[1], values[2], values[3], values[4], values[5]
	tzq, dst := values[6], values[7]

	invalid := year == Sentinel || mon == Sentinel || mday == Sentinel ||
		hour == Sentinel || min == Sentinel || sec == Sentinel

	allInvalid := year == Sentinel && mon == Sentinel && mday == Sentinel &&
		hour == Sentinel && min == Sentinel && sec == Sentinel

	if allInvalid && tzq == Sentinel && dst == Sentinel {
		return OperatorTime{}, ErrUnsupported
	}

	var ot OperatorTime
	if invalid {
		u := now.UTC()
		ot.Year = u.Year() - 1900
		ot.Mon = int(u.Month()) - 1
		ot.Mday = u.Day()
		ot.Hour = u.Hour()
		ot.Min = u.Minute()
		ot.Sec = u.Second()
	} else {
		ot.Year = int(year) + 100
		ot.Mon = int(mon) - 1
		ot.Mday = int(mday)
		ot.Hour = int(hour)
		ot.Min = int(min)
		ot.Sec = int(sec)
	}

	if dst == Sentinel || dst < 0 || dst > 2 {
		ot.DST = Sentinel
	} else {
		ot.DST = int(dst)
	}

	if tzq == Sentinel {
		ot.TZQuarter = Sentinel
	} else {
		magnitude := int(tzq) & 0x3F
		if int(tzq)&0x80 != 0 {
			magnitude = -magnitude
		}
		ot.TZQuarter = magnitude
	}

	return ot, nil
}
