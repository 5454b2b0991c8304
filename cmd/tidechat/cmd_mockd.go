// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidechat/cmd/tidechat/config"
	"github.com/AleutianAI/tidechat/pkg/mockbackend"
)

func runMockdCommand(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("listen")
	fps, _ := cmd.Flags().GetFloat64("fps")
	debug, _ := cmd.Flags().GetBool("debug")

	logger := newCLILogger(config.Global, false)
	defer logger.Close()

	server := mockbackend.New(mockbackend.Config{
		FramesPerSecond: fps,
		Logger:          logger.Slog(),
		Debug:           debug,
	})
	if err := server.Run(addr); err != nil {
		log.Fatalf("Mock backend exited: %v", err)
	}
}
