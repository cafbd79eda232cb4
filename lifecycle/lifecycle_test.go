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

package lifecycle

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeDumper struct{ state string }

func (f *fakeDumper) DumpState() interface{} { return f.state }

func TestRunInvokesOnShutdownWhenContextCancelled(t *testing.T) {
	shutdown := make(chan struct{}, 1)
	l := New(Hooks{OnShutdown: func() { close(shutdown) }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("OnShutdown was not invoked")
	}
	<-done
}

func TestRunInvokesOnShutdownOnTerm(t *testing.T) {
	shutdown := make(chan struct{}, 1)
	l := New(Hooks{OnShutdown: func() { close(shutdown) }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	proc, err := os.FindProcess(os.Getpid())
	assert.NoError(t, err)
	assert.NoError(t, proc.Signal(syscall.SIGTERM))

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("OnShutdown was not invoked on SIGTERM")
	}
	<-done
}

func TestRunInvokesReloadOnHup(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	l := New(Hooks{OnReload: func() error { reloaded <- struct{}{}; return nil }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	proc, err := os.FindProcess(os.Getpid())
	assert.NoError(t, err)
	assert.NoError(t, proc.Signal(syscall.SIGHUP))

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("OnReload was not invoked on SIGHUP")
	}
	cancel()
	<-done
}

func TestDumpDoesNotPanicWithoutDumper(t *testing.T) {
	l := New(Hooks{})
	assert.NotPanics(t, func() { l.dump() })
}
