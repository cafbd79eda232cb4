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

package cmd

import (
	"context"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(getTimeCmd)
	RootCmd.AddCommand(setTimeCmd)
}

var getTimeCmd = &cobra.Command{
	Use:   "get-time",
	Short: "Print the daemon's current wall clock time",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		c := newClient()
		defer c.Close()

		now, err := c.Now(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		cmd.Println(time.Unix(now, 0).UTC().Format(time.RFC3339))
	},
}

var setTimeCmd = &cobra.Command{
	Use:   "set-time <unix-seconds>",
	Short: "Set the wall clock",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		tick, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatalf("invalid unix timestamp %q: %v", args[0], err)
		}

		c := newClient()
		defer c.Close()

		ok, err := c.SetTime(context.Background(), tick)
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			log.Fatal("daemon rejected the new time")
		}
	},
}
