// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
)

type TidechatConfig struct {
	// Backend: where the chat service lives
	Backend BackendConfig `yaml:"backend"`

	// Cache: local citation cache storage
	Cache CacheConfig `yaml:"cache"`

	// Logging: level and optional file output
	Logging LoggingConfig `yaml:"logging"`
}

type BackendConfig struct {
	BaseURL         string `yaml:"base_url"`                    // e.g. http://localhost:12150
	KnowledgeBaseID string `yaml:"knowledge_base_id,omitempty"` // forwarded on every turn
	TimeoutSeconds  int    `yaml:"timeout_seconds"`             // whole-turn HTTP timeout incl. streamed body
}

type CacheConfig struct {
	Dir        string `yaml:"dir"`         // badger database directory
	SizeBudget int    `yaml:"size_budget"` // serialized envelope budget per session, bytes
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() TidechatConfig {
	cacheDir := "tidechat-cache"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".tidechat", "cache")
	}
	return TidechatConfig{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:12150",
			TimeoutSeconds: 300,
		},
		Cache: CacheConfig{
			Dir:        cacheDir,
			SizeBudget: 3800,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
