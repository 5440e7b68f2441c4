package main

import (
	"gopkg.in/urfave/cli.v1"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to TOML config file",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Usage: "directory for the ledger database (overrides config)",
	}
	rpcAddrFlag = cli.StringFlag{
		Name:  "rpc-addr",
		Usage: "JSON-RPC listen address (overrides config)",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Value: 3, // go-ethereum log: legacy "info" verbosity level (unexported legacyLevelInfo)
		Usage: "log verbosity (0-5)",
	}
	allowTimeOverrideFlag = cli.BoolFlag{
		Name:  "allow-time-override",
		Usage: "accept caller-supplied timestamps on stake and redeem (development only)",
	}
	outFlag = cli.StringFlag{
		Name:  "out",
		Value: "tolstake.toml",
		Usage: "output path",
	}
)
