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

package clockdaemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockd/clockd/opsconfig"
	"github.com/clockd/clockd/tzresolver"
)

func TestCityInfoFileForEach(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping")
	require.NoError(t, os.WriteFile(path, []byte("fi\tEurope/Helsinki\nse\tEurope/Stockholm\n"), 0o644))

	var got []tzresolver.CityRecord
	c := cityInfoFile{path: path}
	require.NoError(t, c.ForEach(func(r tzresolver.CityRecord) bool {
		got = append(got, r)
		return true
	}))

	require.Len(t, got, 2)
	assert.Equal(t, "Europe/Helsinki", got[0].Zone)
}

func TestCityInfoFileForEachStopsEarly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping")
	require.NoError(t, os.WriteFile(path, []byte("fi\tEurope/Helsinki\nse\tEurope/Stockholm\n"), 0o644))

	count := 0
	c := cityInfoFile{path: path}
	require.NoError(t, c.ForEach(func(r tzresolver.CityRecord) bool {
		count++
		return false
	}))
	assert.Equal(t, 1, count)
}

func TestTimeChangedIncrementsStatsWithoutDispatcherAttached(t *testing.T) {
	cfg := opsconfig.Default()
	cfg.UserConfigPath = filepath.Join(t.TempDir(), ".clockd.conf")
	cfg.MCCMappingPath = filepath.Join(t.TempDir(), "mcc_mapping")

	d, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, d.TimeChanged(1234))
	assert.Equal(t, int64(1), d.stats.Snapshot()["time_changed_total"])
}

func TestCandidatesReflectsResolver(t *testing.T) {
	cfg := opsconfig.Default()
	cfg.UserConfigPath = filepath.Join(t.TempDir(), ".clockd.conf")
	cfg.MCCMappingPath = filepath.Join(t.TempDir(), "mcc_mapping")

	d, err := New(cfg)
	require.NoError(t, err)

	assert.Empty(t, d.Candidates())
}

func TestDumpStateReflectsEngine(t *testing.T) {
	cfg := opsconfig.Default()
	cfg.UserConfigPath = filepath.Join(t.TempDir(), ".clockd.conf")
	cfg.MCCMappingPath = filepath.Join(t.TempDir(), "mcc_mapping")

	d, err := New(cfg)
	require.NoError(t, err)

	state, ok := d.DumpState().(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, state, "tz")
	assert.Contains(t, state, "autosync")
}
