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

package main

import (
	"context"
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/clockd/clockd/clockdaemon"
	"github.com/clockd/clockd/opsconfig"
)

func main() {
	var (
		opsConfigPath string
		verbose       bool
	)

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "clockd - network time/timezone reconciliation daemon\n\nFlags:\n")
		flag.PrintDefaults()
	}

	flag.StringVar(&opsConfigPath, "opsconfig", "", "Path to deployment YAML config (bus name, MCC mapping path, monitoring address, ...)")
	flag.BoolVar(&verbose, "d", false, "Verbose (debug) logging")
	flag.Parse()

	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := opsconfig.Load(opsConfigPath)
	if err != nil {
		log.Fatal(err)
	}
	log.Debugf("clockd: config: %+v", cfg)

	d, err := clockdaemon.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	if err := d.Run(context.Background()); err != nil {
		log.Fatal(err)
	}
}
