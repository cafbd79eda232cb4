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

package clockclient

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	c := New("com.nokia.clockd", "/com/nokia/clockd", "com.nokia.clockd")
	c.cacheTTL = 20 * time.Millisecond
	return c
}

func TestCachedGetReturnsCachedValueWithinTTL(t *testing.T) {
	c := newTestClient()
	var calls int32

	fetch := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "Europe/Helsinki", nil
	}

	v1, err := c.cachedGet("tz", fetch)
	require.NoError(t, err)
	v2, err := c.cachedGet("tz", fetch)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Helsinki", v1)
	assert.Equal(t, "Europe/Helsinki", v2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCachedGetRefetchesAfterTTL(t *testing.T) {
	c := newTestClient()
	var calls int32

	fetch := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "Europe/Helsinki", nil
	}

	_, err := c.cachedGet("tz", fetch)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = c.cachedGet("tz", fetch)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestInvalidateClearsCache(t *testing.T) {
	c := newTestClient()
	var calls int32
	fetch := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "x", nil
	}

	_, err := c.cachedGet("k", fetch)
	require.NoError(t, err)
	c.invalidate()
	_, err = c.cachedGet("k", fetch)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCachedGetCoalescesConcurrentFetches(t *testing.T) {
	c := newTestClient()
	var calls int32

	fetch := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "v", nil
	}

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, _ = c.cachedGet("shared", fetch)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
