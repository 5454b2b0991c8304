// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/AleutianAI/tidechat/pkg/chat"
	"github.com/AleutianAI/tidechat/pkg/citecache"
	"github.com/AleutianAI/tidechat/pkg/logging"
	"github.com/AleutianAI/tidechat/pkg/stream"
	"github.com/AleutianAI/tidechat/pkg/ux"
)

// =============================================================================
// Input
// =============================================================================

// InputReader abstracts user input reading for testability.
type InputReader interface {
	// ReadLine reads a single line, trimmed. Returns io.EOF when input
	// is exhausted.
	ReadLine() (string, error)
}

// StdinReader is the production InputReader over os.Stdin.
type StdinReader struct {
	reader *bufio.Reader
}

func NewStdinReader() *StdinReader {
	return &StdinReader{reader: bufio.NewReader(os.Stdin)}
}

func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var _ InputReader = (*StdinReader)(nil)

// =============================================================================
// Chat Runner
// =============================================================================

// ChatRunnerOptions wires the chat loop's collaborators.
type ChatRunnerOptions struct {
	Assembler       *stream.Assembler
	Cache           *citecache.Manager
	Renderer        *ux.TranscriptRenderer
	Input           InputReader
	Logger          *logging.Logger
	BaseURL         string
	SessionID       string // non-empty to resume an existing conversation
	KnowledgeBaseID string
}

// ChatRunner drives the interactive chat loop: read a line, send the turn
// through the assembler, apply every patch to the terminal renderer, and
// finish with the citation footer. The transcript lives in the renderer;
// the runner only tracks the session id.
type ChatRunner struct {
	asm       *stream.Assembler
	cache     *citecache.Manager
	renderer  *ux.TranscriptRenderer
	input     InputReader
	logger    *logging.Logger
	baseURL   string
	sessionID string
	kbID      string
}

func NewChatRunner(opts ChatRunnerOptions) *ChatRunner {
	return &ChatRunner{
		asm:       opts.Assembler,
		cache:     opts.Cache,
		renderer:  opts.Renderer,
		input:     opts.Input,
		logger:    opts.Logger,
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		sessionID: opts.SessionID,
		kbID:      opts.KnowledgeBaseID,
	}
}

// SessionID returns the current conversation id ("" until the server
// assigns one).
func (r *ChatRunner) SessionID() string {
	return r.sessionID
}

// Run executes the chat loop until the user exits, input is exhausted, or
// the context is cancelled.
func (r *ChatRunner) Run(ctx context.Context) error {
	if r.sessionID != "" {
		if err := r.restoreSession(ctx); err != nil {
			ux.Warning(fmt.Sprintf("could not restore conversation %s: %v (starting fresh)", r.sessionID, err))
			r.logger.Warn("session restore failed", "session_id", r.sessionID, "error", err)
			r.sessionID = ""
		}
	}
	if r.sessionID == "" {
		ux.Info("Starting a new conversation. Type 'exit' or 'quit' to end.")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Print("you> ")
		line, err := r.input.ReadLine()
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if line == "exit" || line == "quit" {
			ux.Muted("ending chat")
			return nil
		}
		if line == "" {
			continue
		}
		r.runTurn(ctx, line)
	}
}

// runTurn sends one message and streams the reply into the renderer.
func (r *ChatRunner) runTurn(ctx context.Context, text string) {
	spinner := ux.NewSpinner("waiting for the tide")
	spinner.Start()
	spinning := true

	err := r.asm.SendTurn(ctx, stream.TurnRequest{
		Text:            text,
		SessionID:       r.sessionID,
		KnowledgeBaseID: r.kbID,
		Prior:           r.renderer.Messages(),
		OnDelta: func(p stream.Patch) {
			if spinning {
				spinner.Stop()
				spinning = false
			}
			r.renderer.Handle(p)
		},
		OnSessionAssigned: func(id string) {
			r.logger.Info("session assigned", "session_id", id)
			r.sessionID = id
		},
	})
	if spinning {
		spinner.Stop()
	}
	r.renderer.FinishTurn()

	if err != nil {
		// The renderer already showed the error patch; the log carries
		// the detail.
		r.logger.Error("turn failed", "session_id", r.sessionID, "error", err)
	}
}

// restoreSession fetches the conversation transcript and re-attaches
// locally cached citations before the loop starts.
func (r *ChatRunner) restoreSession(ctx context.Context) error {
	records, err := fetchHistory(ctx, r.baseURL, r.sessionID)
	if err != nil {
		return err
	}
	messages := chat.MergeCachedCitations(records, r.cache.Get(r.sessionID))
	r.renderer.SetMessages(messages)
	r.renderer.RenderHistory(messages)
	ux.Muted(fmt.Sprintf("resumed conversation %s (%d messages)", r.sessionID, len(messages)))
	return nil
}

// fetchHistory retrieves a session's persisted messages from the backend.
func fetchHistory(ctx context.Context, baseURL, sessionID string) ([]chat.MessageRecord, error) {
	endpoint := fmt.Sprintf("%s/api/messages?sessionId=%s", baseURL, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history endpoint returned status %d", resp.StatusCode)
	}
	var payload struct {
		Messages []chat.MessageRecord `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parse history response: %w", err)
	}
	return payload.Messages, nil
}
