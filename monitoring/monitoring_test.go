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

package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsIncAndSnapshot(t *testing.T) {
	s := NewStats()
	s.Inc("time.commits")
	s.Inc("time.commits")
	s.Add("zone.commits", 3)

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap["time.commits"])
	assert.Equal(t, int64(3), snap["zone.commits"])
}

func TestStatsSetOverwrites(t *testing.T) {
	s := NewStats()
	s.Set("x", 5)
	s.Set("x", 7)
	assert.Equal(t, int64(7), s.Snapshot()["x"])
}

func TestFlattenKeyReplacesSeparators(t *testing.T) {
	assert.Equal(t, "time_commits_total", flattenKey("time.commits-total"))
	assert.Equal(t, "a_b_c_d", flattenKey("a b=c.d"))
}

func TestHandleJSONServesCounters(t *testing.T) {
	stats := NewStats()
	stats.Set("operator.commits", 4)
	srv := NewServer(":0", stats)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	srv.handleJSON(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]int64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, int64(4), got["operator.commits"])
}
