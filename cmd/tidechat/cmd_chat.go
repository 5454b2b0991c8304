// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidechat/cmd/tidechat/config"
	"github.com/AleutianAI/tidechat/pkg/stream"
	"github.com/AleutianAI/tidechat/pkg/ux"
	"github.com/AleutianAI/tidechat/pkg/validation"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	cfg := config.Global

	plainFlag, _ := cmd.Flags().GetBool("plain")
	plain := plainFlag || !isatty.IsTerminal(os.Stdout.Fd())
	ux.SetPlain(plain)

	logger := newCLILogger(cfg, true)
	defer logger.Close()

	resume, _ := cmd.Flags().GetString("resume")
	if resume != "" {
		if err := validation.ValidateSessionID(resume); err != nil {
			log.Fatalf("Invalid --resume session id: %v", err)
		}
	}
	kbID, _ := cmd.Flags().GetString("knowledge-base")
	if kbID == "" {
		kbID = cfg.Backend.KnowledgeBaseID
	}

	cache, kv, err := openCacheManager(cfg, logger)
	if err != nil {
		log.Fatalf("Could not open the citation cache: %v", err)
	}
	defer kv.Close()

	// Legacy layouts are folded into the current one on every start; a
	// no-op once complete.
	cache.MigrateLegacy()

	asm := stream.NewAssembler(stream.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Citations: cache,
		Logger:    logger.Slog(),
		Timeout:   time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	})

	runner := NewChatRunner(ChatRunnerOptions{
		Assembler:       asm,
		Cache:           cache,
		Renderer:        ux.NewTranscriptRenderer(os.Stdout, plain),
		Input:           NewStdinReader(),
		Logger:          logger,
		BaseURL:         cfg.Backend.BaseURL,
		SessionID:       resume,
		KnowledgeBaseID: kbID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		asm.Cancel()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Chat session ended with an error: %v", err)
	}
	if id := runner.SessionID(); id != "" {
		ux.Muted("resume this conversation with: tidechat chat --resume " + id)
	}
}
