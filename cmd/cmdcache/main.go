package main

import (
	"os"

	"github.com/iTrooz/cmdcache/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(cli.Main(version))
}
