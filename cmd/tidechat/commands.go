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
)

var (
	rootCmd = &cobra.Command{
		Use:   "tidechat",
		Short: "A streaming chat client with a local citation cache",
		Long: `Tidechat talks to a chat backend over its chunked event stream,
renders replies incrementally in the terminal, and keeps every reply's
source citations in a local cache so they survive across sessions.`,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Starts an interactive chat session against the configured backend.
Replies stream token by token and each reply's source citations are shown
below it and cached locally. Use --resume to pick up an earlier conversation.`,
		Run: runChatCommand,
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local citation cache",
	}
	cacheShowCmd = &cobra.Command{
		Use:   "show [session_id]",
		Short: "Show the cached citations for a session",
		Args:  cobra.ExactArgs(1),
		Run:   runCacheShow,
	}
	cacheClearCmd = &cobra.Command{
		Use:   "clear [session_id]",
		Short: "Remove a session's cached citations",
		Args:  cobra.ExactArgs(1),
		Run:   runCacheClear,
	}
	cacheMigrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy cache entries to the current format",
		Long: `Rewrites citation entries stored under older key layouts into the
current per-session format and deletes the originals. Safe to run repeatedly.`,
		Run: runCacheMigrate,
	}

	mockdCmd = &cobra.Command{
		Use:   "mockd",
		Short: "Run a local mock chat backend",
		Long: `Runs an in-memory chat backend speaking the same streaming protocol as
the real service. Point 'tidechat chat' at it to try the client offline.`,
		Run: runMockdCommand,
	}
)

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := config.Load(); err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
	}

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("resume", "", "Resume a conversation using a specific session ID.")
	chatCmd.Flags().String("knowledge-base", "", "Knowledge base ID to retrieve from (overrides config).")
	chatCmd.Flags().Bool("plain", false, "Disable colors, spinner, and in-place redraws.")

	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheMigrateCmd)

	rootCmd.AddCommand(mockdCmd)
	mockdCmd.Flags().String("listen", ":12150", "Address to listen on.")
	mockdCmd.Flags().Float64("fps", 30, "Delta frames per second (0 disables pacing).")
	mockdCmd.Flags().Bool("debug", false, "Enable request logging.")
}
