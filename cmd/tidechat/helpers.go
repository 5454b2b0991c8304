// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/AleutianAI/tidechat/cmd/tidechat/config"
	"github.com/AleutianAI/tidechat/pkg/citecache"
	"github.com/AleutianAI/tidechat/pkg/logging"
	"github.com/AleutianAI/tidechat/pkg/storage/badgerkv"
)

// newCLILogger builds the process logger from config. Quiet keeps slog
// output off stderr so it cannot smear an interactive transcript. File
// logging failures degrade to stderr-only rather than aborting the command.
func newCLILogger(cfg config.TidechatConfig, quiet bool) *logging.Logger {
	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "tidechat",
		JSON:    cfg.Logging.JSON,
		Quiet:   quiet,
	})
	if err != nil {
		logger.Warn("file logging unavailable", "error", err)
	}
	return logger
}

// openCacheManager opens the badger-backed citation cache. The caller
// owns the returned KV and must Close it.
func openCacheManager(cfg config.TidechatConfig, logger *logging.Logger) (*citecache.Manager, *badgerkv.KV, error) {
	kvCfg := badgerkv.DefaultConfig(cfg.Cache.Dir)
	kvCfg.Logger = logger.Slog()
	kv, err := badgerkv.Open(kvCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache at %s: %w", cfg.Cache.Dir, err)
	}
	manager := citecache.NewManager(citecache.Config{
		Primary:    kv,
		SizeBudget: cfg.Cache.SizeBudget,
		Logger:     logger.Slog(),
	})
	return manager, kv, nil
}
