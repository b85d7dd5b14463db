// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command roomstatus drives a room status door sign. Buttons select the
// status, LEDs show it, and changes are published to an MQTT topic and
// announced in Matrix rooms.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/roomstatus/pkg/daemon"
	"github.com/aiku/roomstatus/pkg/roomstatus"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var generateExample = flag.MakeFull("g", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
var noUpdate = flag.MakeFull("n", "no-update", "Don't save the updated config to disk.", "false").Bool()
var version = flag.MakeFull("v", "version", "View version and quit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles("roomstatus - A room status door sign controller.", "roomstatus [-hgnv] [-c <path>]")
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Printf("roomstatus %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *generateExample {
		if err = daemon.WriteExample(*configPath); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	cfg, err := daemon.Load(*configPath, !*noUpdate)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		if errors.Is(err, roomstatus.ErrConfig) {
			os.Exit(11)
		}
		os.Exit(10)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(12)
	}
	exzerolog.SetupDefaults(log)
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting roomstatus")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	d, err := daemon.New(ctx, cfg, *log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer d.Close()
	if err = d.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Stopped with error")
		return
	}
	log.Info().Msg("Shutdown complete")
}
