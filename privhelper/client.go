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

// Package privhelper is the daemon-side half of the privilege-separated
// writer protocol (C2): it execs the clockd-helper binary with a fixed
// "clockd" sentinel argument followed by either a numeric tick or a zone
// name, and translates its exit code back into an error. The original
// invoked this via system(3) with a shell-built string; we exec the binary
// directly with an explicit argv, which preserves the one-shot-process-per-
// call contract without a shell in between.
package privhelper

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sentinel is the fixed first argument the helper requires, guarding against
// it being invoked by anything other than the daemon.
const Sentinel = "clockd"

// Exit codes the helper promises, per rclockd.c's main().
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsageError = 2
)

// Client invokes a clockd-helper binary at Path.
type Client struct {
	Path string
}

// New returns a Client that execs the helper at path.
func New(path string) *Client {
	return &Client{Path: path}
}

func (c *Client) run(ctx context.Context, arg string) error {
	cmd := exec.CommandContext(ctx, c.Path, Sentinel, arg)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			log.WithFields(log.Fields{
				"arg":  arg,
				"code": exitErr.ExitCode(),
			}).Errorf("clockd-helper failed: %s", string(out))
			return fmt.Errorf("privhelper: helper exited %d: %w", exitErr.ExitCode(), err)
		}
		return fmt.Errorf("privhelper: exec failed: %w", err)
	}
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// SetTime commits a wall-clock tick and, per §4.1, verifies the post-call
// clock lands within ±2s of the requested value, logging (but not failing
// on) drift beyond that.
func (c *Client) SetTime(ctx context.Context, tick int64) error {
	if err := c.run(ctx, strconv.FormatInt(tick, 10)); err != nil {
		return err
	}
	if diff := time.Now().Unix() - tick; diff > 2 || diff < -2 {
		log.Warnf("privhelper: post-commit clock differs from requested tick by %ds", diff)
	}
	return nil
}

// SetZone commits a zone change.
func (c *Client) SetZone(ctx context.Context, zone string) error {
	return c.run(ctx, zone)
}
