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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(getTZCmd)
	RootCmd.AddCommand(setTZCmd)
}

var getTZCmd = &cobra.Command{
	Use:   "get-tz",
	Short: "Print the daemon's current timezone",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		c := newClient()
		defer c.Close()

		tz, err := c.TZ(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		cmd.Println(tz)
	},
}

var setTZCmd = &cobra.Command{
	Use:   "set-tz <zone>",
	Short: "Set the system timezone (e.g. :Europe/Helsinki or a POSIX rule)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		c := newClient()
		defer c.Close()

		ok, err := c.SetTimezone(context.Background(), args[0])
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			log.Fatalf("daemon rejected timezone %q", args[0])
		}
	},
}
