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

package tzutil

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeZoneIdempotent(t *testing.T) {
	cases := []string{"Europe/Helsinki", ":Europe/Helsinki", "GMT-5GMT-4,0,365", "", "UTC"}
	for _, z := range cases {
		once := NormalizeZone(z)
		twice := NormalizeZone(once)
		assert.Equal(t, once, twice, "normalize should be idempotent for %q", z)
	}
}

func TestNormalizeZonePrependsColon(t *testing.T) {
	assert.Equal(t, ":/etc/localtime", NormalizeZone("/etc/localtime"))
	assert.Equal(t, "Europe/Helsinki", NormalizeZone("Europe/Helsinki"))
	assert.Equal(t, ":Europe/Helsinki", NormalizeZone(":Europe/Helsinki"))
}

func TestCheckTimezoneShape(t *testing.T) {
	assert.True(t, CheckTimezoneShape("GMT"))
	assert.True(t, CheckTimezoneShape("EST5EDT"))
	assert.False(t, CheckTimezoneShape("12abc"))
	assert.False(t, CheckTimezoneShape("+5"))
}

func TestFormatQuarterZone(t *testing.T) {
	assert.Equal(t, "Etc/GMT", FormatQuarterZone(0))
	assert.Equal(t, "Etc/GMT-2", FormatQuarterZone(8))
	assert.Equal(t, "Etc/GMT+5", FormatQuarterZone(-20))
	assert.Equal(t, "Etc/GMT-1:30", FormatQuarterZone(6))
}

func TestZonesEquivalentShortCircuitsOnEquality(t *testing.T) {
	assert.True(t, ZonesEquivalent(":Europe/Helsinki", ":Europe/Helsinki"))
	assert.True(t, ZonesEquivalent("", ""))
}

func TestWithZoneRestoresEnvironment(t *testing.T) {
	t.Setenv("TZ", "Europe/London")
	err := WithZone(":Europe/Helsinki", func() error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", os.Getenv("TZ"))
}

func TestLocationForEtcGMT(t *testing.T) {
	loc, err := LocationFor("Etc/GMT")
	require.NoError(t, err)
	_, offset := time.Date(2024, time.June, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 0, offset)
}
