package main

import (
	"os"

	"github.com/cvedb/cvedb-tools/pkg"
	"github.com/cvedb/cvedb-tools/pkg/log"
)

var (
	version = "0.0.1"
)

func main() {
	ac := pkg.AppConfig{
		Out: os.Stdout,
	}

	app := ac.NewApp(version)
	if err := app.Run(os.Args); err != nil {
		log.Error("Fatal error", log.Err(err))
		os.Exit(1)
	}
}
