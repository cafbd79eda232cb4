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
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var yesString = color.GreenString("yes")
var noString = color.YellowString("no")

func init() {
	RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current time, timezone and autosync state",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		c := newClient()
		defer c.Close()
		ctx := context.Background()

		now, err := c.Now(ctx)
		if err != nil {
			log.Fatal(err)
		}
		tz, err := c.TZ(ctx)
		if err != nil {
			log.Fatal(err)
		}
		autosync, err := c.Autosync(ctx)
		if err != nil {
			log.Fatal(err)
		}
		haveOperator, err := c.HaveOperatorTime(ctx)
		if err != nil {
			log.Fatal(err)
		}
		format, err := c.TimeFormat(ctx)
		if err != nil {
			log.Fatal(err)
		}

		autosyncStr := noString
		if autosync {
			autosyncStr = yesString
		}
		operatorStr := noString
		if haveOperator {
			operatorStr = yesString
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"field", "value"})
		table.Append([]string{"time", time.Unix(now, 0).UTC().Format(time.RFC3339)})
		table.Append([]string{"unix", strconv.FormatInt(now, 10)})
		table.Append([]string{"timezone", tz})
		table.Append([]string{"autosync", autosyncStr})
		table.Append([]string{"operator time available", operatorStr})
		table.Append([]string{"display format", format})
		table.Render()
	},
}
