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

// Package cmd implements the clockctl admin CLI, a thin cobra front end
// over clockclient.
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/clockd/clockd/clockclient"
)

// RootCmd is the main entry point, exported so it can be extended.
var RootCmd = &cobra.Command{
	Use:   "clockctl",
	Short: "Inspect and control the clock daemon",
}

var (
	rootVerboseFlag bool
	rootBusName     = "com.nokia.clockd"
	rootObjectPath  = "/com/nokia/clockd"
	rootInterface   = "com.nokia.clockd"
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVar(&rootBusName, "bus-name", rootBusName, "D-Bus well-known name of the daemon")
	RootCmd.PersistentFlags().StringVar(&rootObjectPath, "object-path", rootObjectPath, "D-Bus object path of the daemon")
	RootCmd.PersistentFlags().StringVar(&rootInterface, "interface", rootInterface, "D-Bus interface of the daemon")

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

// ConfigureVerbosity configures log verbosity from the parsed flags; every
// subcommand calls this first.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

func newClient() *clockclient.Client {
	return clockclient.New(rootBusName, rootObjectPath, rootInterface)
}

// Execute is the CLI entry point.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
