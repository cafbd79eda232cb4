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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(autosyncCmd)
	RootCmd.AddCommand(activateCmd)
}

var autosyncCmd = &cobra.Command{
	Use:   "autosync <on|off>",
	Short: "Enable or disable operator-time autosync",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()

		enabled, err := parseOnOff(args[0])
		if err != nil {
			log.Fatal(err)
		}

		c := newClient()
		defer c.Close()

		ok, err := c.SetAutosync(context.Background(), enabled)
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			log.Fatal("daemon refused the autosync change (disabled by environment?)")
		}
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Commit the last known operator time immediately",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		c := newClient()
		defer c.Close()

		ok, err := c.ActivateNetTime(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			log.Fatal("no pending operator time to activate")
		}
	},
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n != 0, nil
	}
	return false, errInvalidOnOff(s)
}

type errInvalidOnOff string

func (e errInvalidOnOff) Error() string {
	return "invalid on/off value: " + string(e)
}
