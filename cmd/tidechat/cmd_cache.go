// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidechat/cmd/tidechat/config"
	"github.com/AleutianAI/tidechat/pkg/chat"
	"github.com/AleutianAI/tidechat/pkg/ux"
	"github.com/AleutianAI/tidechat/pkg/validation"
)

func runCacheShow(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	if err := validation.ValidateSessionID(sessionID); err != nil {
		log.Fatalf("Invalid session id: %v", err)
	}

	logger := newCLILogger(config.Global, true)
	defer logger.Close()
	cache, kv, err := openCacheManager(config.Global, logger)
	if err != nil {
		log.Fatalf("Could not open the citation cache: %v", err)
	}
	defer kv.Close()

	entries := cache.Get(sessionID)
	if len(entries) == 0 {
		fmt.Println("No cached citations for this session.")
		return
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, oj := chat.KeyOrdinal(keys[i]), chat.KeyOrdinal(keys[j])
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		fmt.Printf("%s (%d citations)\n", key, len(entries[key]))
		for i, cit := range entries[key] {
			score := ""
			if cit.Score != nil {
				score = fmt.Sprintf(" (%.2f)", *cit.Score)
			}
			fmt.Printf("  [%d] %s%s\n", i+1, cit.Source, score)
		}
	}
}

func runCacheClear(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	if err := validation.ValidateSessionID(sessionID); err != nil {
		log.Fatalf("Invalid session id: %v", err)
	}

	logger := newCLILogger(config.Global, true)
	defer logger.Close()
	cache, kv, err := openCacheManager(config.Global, logger)
	if err != nil {
		log.Fatalf("Could not open the citation cache: %v", err)
	}
	defer kv.Close()

	cache.Clear(sessionID)
	ux.Info("Cleared cached citations for session " + sessionID)
}

func runCacheMigrate(cmd *cobra.Command, args []string) {
	logger := newCLILogger(config.Global, true)
	defer logger.Close()
	cache, kv, err := openCacheManager(config.Global, logger)
	if err != nil {
		log.Fatalf("Could not open the citation cache: %v", err)
	}
	defer kv.Close()

	cache.MigrateLegacy()
	ux.Info("Legacy cache migration complete.")
}
