// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/tidechat/pkg/chat"
	"github.com/AleutianAI/tidechat/pkg/citecache"
	"github.com/AleutianAI/tidechat/pkg/logging"
	"github.com/AleutianAI/tidechat/pkg/mockbackend"
	"github.com/AleutianAI/tidechat/pkg/stream"
	"github.com/AleutianAI/tidechat/pkg/ux"
	"github.com/AleutianAI/tidechat/pkg/validation"
)

// scriptedInput feeds a fixed sequence of lines, then EOF.
type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) ReadLine() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

type runnerFixture struct {
	runner   *ChatRunner
	renderer *ux.TranscriptRenderer
	cache    *citecache.Manager
	out      *bytes.Buffer
}

func newRunnerFixture(t *testing.T, baseURL, sessionID string, lines []string) *runnerFixture {
	t.Helper()
	ux.SetPlain(true)

	logger, err := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	if err != nil {
		t.Fatalf("logging.New() error: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	cache := citecache.NewManager(citecache.Config{Logger: logger.Slog()})
	out := &bytes.Buffer{}
	renderer := ux.NewTranscriptRenderer(out, true)
	asm := stream.NewAssembler(stream.Config{
		BaseURL:   baseURL,
		Citations: cache,
		Logger:    logger.Slog(),
	})

	runner := NewChatRunner(ChatRunnerOptions{
		Assembler: asm,
		Cache:     cache,
		Renderer:  renderer,
		Input:     &scriptedInput{lines: lines},
		Logger:    logger,
		BaseURL:   baseURL,
		SessionID: sessionID,
	})
	return &runnerFixture{runner: runner, renderer: renderer, cache: cache, out: out}
}

func TestChatRunner_EndToEnd(t *testing.T) {
	ts := httptest.NewServer(mockbackend.New(mockbackend.Config{}).Handler())
	defer ts.Close()

	f := newRunnerFixture(t, ts.URL, "", []string{"what lives in a tide pool?", "tell me more", "exit"})
	if err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if !validation.IsValidSessionID(f.runner.SessionID()) {
		t.Fatalf("runner session id malformed: %q", f.runner.SessionID())
	}

	messages := f.renderer.Messages()
	if len(messages) != 4 {
		t.Fatalf("expected 4 transcript messages, got %d", len(messages))
	}
	if messages[1].Role != chat.RoleAssistant || !strings.Contains(messages[1].Content, "what lives in a tide pool?") {
		t.Errorf("unexpected first reply: %+v", messages[1])
	}
	if len(messages[3].Citations) == 0 {
		t.Error("second reply should carry citations")
	}

	cached := f.cache.Get(f.runner.SessionID())
	for _, key := range []string{chat.AssistantKey(1), chat.AssistantKey(2)} {
		if len(cached[key]) == 0 {
			t.Errorf("expected cached citations under %q, got keys %v", key, cached)
		}
	}

	output := f.out.String()
	if !strings.Contains(output, "tide>") {
		t.Errorf("output missing the assistant label:\n%s", output)
	}
	if !strings.Contains(output, "sources (") {
		t.Errorf("output missing the citation footer:\n%s", output)
	}
}

func TestChatRunner_Resume(t *testing.T) {
	ts := httptest.NewServer(mockbackend.New(mockbackend.Config{}).Handler())
	defer ts.Close()

	first := newRunnerFixture(t, ts.URL, "", []string{"remember this", "exit"})
	if err := first.runner.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	sessionID := first.runner.SessionID()

	// The second runner shares the cache but starts with an empty
	// transcript, the way a fresh process would after --resume.
	second := newRunnerFixture(t, ts.URL, sessionID, []string{"exit"})
	second.runner.cache = first.cache
	if err := second.runner.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run() error: %v", err)
	}

	messages := second.renderer.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 restored messages, got %d", len(messages))
	}
	if messages[0].Role != chat.RoleUser || messages[0].Content != "remember this" {
		t.Errorf("unexpected restored user message: %+v", messages[0])
	}
	if messages[1].Role != chat.RoleAssistant {
		t.Fatalf("expected restored assistant message, got %+v", messages[1])
	}
	if len(messages[1].Citations) == 0 {
		t.Error("restored assistant message should have citations re-attached from the cache")
	}
	if !strings.Contains(second.out.String(), "remember this") {
		t.Errorf("resumed transcript was not rendered:\n%s", second.out.String())
	}
}

func TestChatRunner_ResumeUnknownSessionFallsBack(t *testing.T) {
	ts := httptest.NewServer(mockbackend.New(mockbackend.Config{}).Handler())
	defer ts.Close()

	stale := "9f1c2a3b-4d5e-6f70-8192-a3b4c5d6e7f8"
	f := newRunnerFixture(t, ts.URL, stale, []string{"hello anyway", "exit"})
	if err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if f.runner.SessionID() == stale {
		t.Error("expected the stale session id to be dropped")
	}
	if !validation.IsValidSessionID(f.runner.SessionID()) {
		t.Errorf("expected a fresh session id, got %q", f.runner.SessionID())
	}
	if len(f.renderer.Messages()) != 2 {
		t.Errorf("expected a fresh 2-message transcript, got %d", len(f.renderer.Messages()))
	}
}

func TestScriptedInput(t *testing.T) {
	in := &scriptedInput{lines: []string{"a", "b"}}
	for _, want := range []string{"a", "b"} {
		got, err := in.ReadLine()
		if err != nil || got != want {
			t.Fatalf("ReadLine() = %q, %v; want %q", got, err, want)
		}
	}
	if _, err := in.ReadLine(); err != io.EOF {
		t.Errorf("exhausted reader error = %v, want io.EOF", err)
	}
}
