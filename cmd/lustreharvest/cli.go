// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagVerbose    bool
	flagDryRun     bool
	flagSecretFile string
	flagPort       int
	flagInterface  string
	flagConfigFile string
	flagGops       bool
)

func parseFlags() []string {
	flag.BoolVar(&flagVerbose, "v", false, "Print debug-level diagnostic output")
	flag.BoolVar(&flagVerbose, "verbose", false, "Print debug-level diagnostic output")
	flag.BoolVar(&flagDryRun, "d", false, "Suppress downstream publication (server mode only)")
	flag.BoolVar(&flagDryRun, "dryrun", false, "Suppress downstream publication (server mode only)")
	flag.StringVar(&flagSecretFile, "secretfile", "", "Overwrite the configured shared-secret file path")
	flag.IntVar(&flagPort, "port", 0, "Overwrite the configured TCP port")
	flag.StringVar(&flagInterface, "interface", "", "Server mode: bind to this interface/address instead of the wildcard")
	flag.StringVar(&flagConfigFile, "config", "/etc/lustreharvest/config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()
	return flag.Args()
}
