// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/tidechat/pkg/chat"
	"github.com/AleutianAI/tidechat/pkg/validation"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for an Assembler. Only BaseURL is required.
type Config struct {
	BaseURL   string        // Chat backend URL without trailing slash (required)
	Client    HTTPClient    // HTTP transport (optional; default production client)
	Citations CitationSink  // Mid-stream citation persistence (optional)
	Logger    *slog.Logger  // Structured logger (optional; default slog.Default)
	Timeout   time.Duration // HTTP timeout incl. streamed body (optional; default 5m)
}

// Assembler drives chat turns against the backend's streaming endpoint.
//
// # Description
//
// One Assembler serves one conversation surface. At most one turn is in
// flight per instance: starting a new turn implicitly cancels the previous
// one, and every state mutation is guarded by a generation counter so a
// cancelled turn's late-arriving chunks are discarded instead of corrupting
// the newer turn's transcript.
//
// # Thread Safety
//
// SendTurn and Cancel may be called from different goroutines. Patch
// callbacks for a single turn are invoked sequentially from the goroutine
// running SendTurn.
//
// # Limitations
//
//   - No timeout beyond the HTTP client's; a stalled stream holds the turn
//     open until cancelled.
//   - The single retry on a stale session id is the only automatic retry.
type Assembler struct {
	client    HTTPClient
	baseURL   string
	citations CitationSink
	logger    *slog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// NewAssembler creates an Assembler from config.
func NewAssembler(cfg Config) *Assembler {
	client := cfg.Client
	if client == nil {
		client = newDefaultHTTPClient(cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		client:    client,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		citations: cfg.Citations,
		logger:    logger,
	}
}

// Cancel aborts the in-flight turn, if any. The aborted turn stops silently:
// no further patches, no error patch.
func (a *Assembler) Cancel() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// Turn Execution
// =============================================================================

// turnState carries the per-turn context that frame handling needs.
type turnState struct {
	ctx            context.Context
	gen            uint64
	req            *TurnRequest
	assistantIndex int
	assistantOrd   int
	cacheSessionID string // authoritative id from the response header
	errorPatched   bool
}

// SendTurn runs one complete chat turn.
//
// # Description
//
// Emits the user message and an empty assistant placeholder synchronously,
// issues the request (retrying exactly once without the session id on a
// not-found/forbidden response), then applies every stream frame to the
// placeholder in arrival order via OnDelta. Citation batches additionally
// flow into the configured CitationSink.
//
// Exactly one of three outcomes happens per turn: successful completion,
// clean silent cancellation, or a single terminal error patch replacing the
// placeholder content.
//
// # Outputs
//
//   - error: nil on completion or clean cancellation; otherwise the terminal
//     error, which has already been surfaced through the error patch. Callers
//     use it for logging only, never for transcript state.
func (a *Assembler) SendTurn(ctx context.Context, req TurnRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fmt.Errorf("empty message text")
	}
	if req.OnDelta == nil {
		return fmt.Errorf("OnDelta callback is required")
	}
	req.Text = text

	turnCtx, gen := a.beginTurn(ctx)
	defer a.endTurn(gen)

	st := &turnState{
		ctx:            turnCtx,
		gen:            gen,
		req:            &req,
		assistantIndex: len(req.Prior) + 1,
		assistantOrd:   countAssistants(req.Prior) + 1,
	}

	// The user message and the assistant placeholder appear immediately,
	// before any network activity.
	a.emit(st, Patch{
		Kind:    PatchAppendMessage,
		Index:   len(req.Prior),
		Message: &chat.Message{Role: chat.RoleUser, Content: req.Text},
	})
	a.emit(st, Patch{
		Kind:    PatchAppendMessage,
		Index:   st.assistantIndex,
		Message: &chat.Message{Role: chat.RoleAssistant, Content: "", Citations: []chat.Citation{}},
	})

	resp, err := a.postWithSessionRetry(st)
	if err != nil {
		return a.failTurn(st, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return a.failTurn(st, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	a.adoptSessionID(st, resp.Header.Get(SessionIDHeader))

	if err := a.consumeStream(st, resp.Body); err != nil {
		return a.failTurn(st, err)
	}
	return nil
}

// beginTurn cancels any previous turn and installs this turn's cancel func.
func (a *Assembler) beginTurn(ctx context.Context) (context.Context, uint64) {
	turnCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	prev := a.cancel
	a.generation++
	gen := a.generation
	a.cancel = cancel
	a.mu.Unlock()

	if prev != nil {
		prev()
	}
	return turnCtx, gen
}

// endTurn releases this turn's cancel func unless a newer turn replaced it.
func (a *Assembler) endTurn(gen uint64) {
	a.mu.Lock()
	if a.generation == gen && a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.mu.Unlock()
}

// current reports whether gen is still the newest turn.
func (a *Assembler) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation == gen
}

// emit delivers a patch unless the turn is stale or cancelled.
func (a *Assembler) emit(st *turnState, p Patch) {
	if st.ctx.Err() != nil || !a.current(st.gen) {
		return
	}
	st.req.OnDelta(p)
}

// failTurn surfaces a terminal failure as a one-time error patch, unless the
// turn was cancelled, which stays silent.
func (a *Assembler) failTurn(st *turnState, err error) error {
	if isCancellation(st.ctx, err) {
		a.logger.Debug("turn cancelled", "generation", st.gen)
		return nil
	}

	a.logger.Error("chat turn failed",
		"generation", st.gen,
		"assistant_ordinal", st.assistantOrd,
		"error", err,
	)

	if !st.errorPatched {
		st.errorPatched = true
		a.emit(st, Patch{
			Kind:  PatchReplaceContent,
			Index: st.assistantIndex,
			Delta: fmt.Sprintf("Request failed: %v", err),
		})
	}
	return err
}

// isCancellation reports whether err is the silent-abort case rather than a
// genuine transport failure.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func countAssistants(messages []chat.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == chat.RoleAssistant {
			n++
		}
	}
	return n
}

// =============================================================================
// Request / Retry
// =============================================================================

// postWithSessionRetry issues the chat request. The session id is attached
// only when it passes the strict format check. A not-found or forbidden
// response with a session id attached triggers exactly one retry without it,
// causing the server to mint a fresh session. Every other non-2xx status is
// terminal for the turn.
func (a *Assembler) postWithSessionRetry(st *turnState) (*http.Response, error) {
	url := a.baseURL + "/api/chat"

	attachedID := ""
	if validation.IsValidSessionID(st.req.SessionID) {
		attachedID = st.req.SessionID
	}

	resp, err := a.postChat(st.ctx, url, st.req, attachedID)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}

	if attachedID != "" && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden) {
		a.logger.Warn("session rejected by server, retrying without session id",
			"session_id", attachedID,
			"status_code", resp.StatusCode,
		)
		drainAndClose(resp.Body)

		resp, err = a.postChat(st.ctx, url, st.req, "")
		if err != nil {
			return nil, fmt.Errorf("http post (session retry): %w", err)
		}
	}
	return resp, nil
}

func (a *Assembler) postChat(ctx context.Context, url string, req *TurnRequest, sessionID string) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Message:         req.Text,
		SessionID:       sessionID,
		KnowledgeBaseID: req.KnowledgeBaseID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return a.client.Post(ctx, url, "application/json", bytes.NewReader(body))
}

// adoptSessionID records the authoritative session id from the response and
// notifies the caller once if it differs from what they supplied.
func (a *Assembler) adoptSessionID(st *turnState, headerID string) {
	st.cacheSessionID = headerID
	if headerID == "" || headerID == st.req.SessionID {
		return
	}
	a.logger.Info("server assigned session",
		"session_id", headerID,
		"previous", st.req.SessionID,
	)
	if st.req.OnSessionAssigned != nil && st.ctx.Err() == nil && a.current(st.gen) {
		st.req.OnSessionAssigned(headerID)
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

// =============================================================================
// Stream Loop
// =============================================================================

// consumeStream reads the response body chunk by chunk, reassembles frames,
// and applies them in arrival order. Returns nil on the done sentinel, on
// EOF, and on cancellation.
func (a *Assembler) consumeStream(st *turnState, body io.Reader) error {
	framer := NewFramer()
	parser := NewEventParser()
	buf := make([]byte, 4096)

	for {
		if st.ctx.Err() != nil {
			return nil
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range framer.Push(buf[:n]) {
				if done := a.handleFrame(st, parser, frame); done {
					return nil
				}
			}
		}

		if readErr == io.EOF {
			// A final fragment without a trailing delimiter is still a frame.
			if tail := framer.Flush(); tail != "" {
				a.handleFrame(st, parser, tail)
			}
			return nil
		}
		if readErr != nil {
			if isCancellation(st.ctx, readErr) {
				return nil
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// handleFrame applies one complete frame; reports whether the stream is done.
func (a *Assembler) handleFrame(st *turnState, parser *EventParser, frame string) bool {
	event, err := parser.ParseFrame(frame)
	if err != nil {
		// Malformed payloads are skipped; they never abort the turn.
		a.logger.Warn("skipping malformed stream frame",
			"generation", st.gen,
			"frame_length", len(frame),
			"error", err,
		)
		return false
	}
	if event == nil {
		return false
	}
	if event.Done {
		return true
	}

	if event.HasDelta {
		a.emit(st, Patch{
			Kind:  PatchAppendContent,
			Index: st.assistantIndex,
			Delta: event.Delta,
		})
	}

	if len(event.Resources) > 0 {
		citations := chat.NormalizeCitations(event.Resources)
		a.emit(st, Patch{
			Kind:      PatchReplaceCitations,
			Index:     st.assistantIndex,
			Citations: citations,
		})
		if a.citations != nil && st.cacheSessionID != "" && st.ctx.Err() == nil && a.current(st.gen) {
			a.citations.SaveCitations(st.cacheSessionID, st.assistantOrd, citations)
		}
	}
	return false
}
