// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/portsample-ebpf/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		slog.Error("portsample failed", "err", err)
		os.Exit(1)
	}
}
