// Swaprules - Billix swap lifecycle and trust-tier rules engine.
// Copyright (c) 2026 Billix
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"os"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
