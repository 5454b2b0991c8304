// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/tidechat/pkg/chat"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// mockHTTPClient implements HTTPClient with scripted per-call responses.
type mockHTTPClient struct {
	mu        sync.Mutex
	responses []*http.Response
	errs      []error
	bodies    []chatRequest // captured request bodies in call order
	calls     int
}

func (m *mockHTTPClient) Post(_ context.Context, _, _ string, body io.Reader) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var req chatRequest
	if body != nil {
		_ = json.NewDecoder(body).Decode(&req)
	}
	m.bodies = append(m.bodies, req)

	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return nil, errors.New("mock: no scripted response")
}

// frames joins event payloads into a delimiter-framed stream body.
func frames(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return b.String()
}

func mockResponse(status int, body, sessionID string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	if sessionID != "" {
		resp.Header.Set(SessionIDHeader, sessionID)
	}
	return resp
}

// recorder collects patches and applies them to a transcript.
type recorder struct {
	patches  []Patch
	messages []chat.Message
	sessions []string
}

func (r *recorder) onDelta(p Patch) {
	r.patches = append(r.patches, p)
	r.messages = p.Apply(r.messages)
}

func (r *recorder) onSession(id string) {
	r.sessions = append(r.sessions, id)
}

// memorySink records SaveCitations calls.
type memorySink struct {
	sessionID string
	ordinal   int
	citations []chat.Citation
	calls     int
}

func (s *memorySink) SaveCitations(sessionID string, ordinal int, citations []chat.Citation) {
	s.sessionID = sessionID
	s.ordinal = ordinal
	s.citations = citations
	s.calls++
}

const testSessionID = "9f1c2a3b-4d5e-6f70-8192-a3b4c5d6e7f8"
const newSessionID = "11112222-3333-4444-5555-666677778888"

// =============================================================================
// END-TO-END TURN
// =============================================================================

func TestSendTurn_EndToEnd(t *testing.T) {
	body := frames(
		`{"event":"message","answer":"Hi"}`,
		`{"event":"agent_message","answer":" there"}`,
		`{"event":"message_end","metadata":{"retriever_resources":[{"document_name":"guide.pdf","content":"chapter 2","score":0.91}]}}`,
		`[DONE]`,
	)
	client := &mockHTTPClient{responses: []*http.Response{mockResponse(200, body, testSessionID)}}
	sink := &memorySink{}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client, Citations: sink})
	err := a.SendTurn(context.Background(), TurnRequest{
		Text:              "hello",
		OnDelta:           rec.onDelta,
		OnSessionAssigned: rec.onSession,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(rec.messages))
	}
	if rec.messages[0].Role != chat.RoleUser || rec.messages[0].Content != "hello" {
		t.Errorf("user message = %+v", rec.messages[0])
	}
	if rec.messages[1].Role != chat.RoleAssistant || rec.messages[1].Content != "Hi there" {
		t.Errorf("assistant message = %+v", rec.messages[1])
	}
	if len(rec.messages[1].Citations) != 1 || rec.messages[1].Citations[0].Source != "guide.pdf" {
		t.Errorf("citations = %+v", rec.messages[1].Citations)
	}

	if len(rec.sessions) != 1 || rec.sessions[0] != testSessionID {
		t.Errorf("OnSessionAssigned calls = %v", rec.sessions)
	}

	if sink.calls != 1 || sink.sessionID != testSessionID || sink.ordinal != 1 {
		t.Errorf("sink call = %+v", sink)
	}
	if len(sink.citations) != 1 || sink.citations[0].Source != "guide.pdf" {
		t.Errorf("sink citations = %+v", sink.citations)
	}
}

func TestSendTurn_FrameOrderPreserved(t *testing.T) {
	deltas := []string{"a", "b", "c", "d", "e"}
	payloads := make([]string, 0, len(deltas)+1)
	for _, d := range deltas {
		payloads = append(payloads, `{"event":"message","answer":"`+d+`"}`)
	}
	payloads = append(payloads, `[DONE]`)

	client := &mockHTTPClient{responses: []*http.Response{mockResponse(200, frames(payloads...), testSessionID)}}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})
	if err := a.SendTurn(context.Background(), TurnRequest{Text: "go", OnDelta: rec.onDelta}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := rec.messages[1].Content; got != "abcde" {
		t.Errorf("assistant content = %q, want %q", got, "abcde")
	}
}

func TestSendTurn_CitationReplaceNotAppend(t *testing.T) {
	body := frames(
		`{"event":"message_end","metadata":{"retriever_resources":[{"document_name":"first.pdf","content":"1"}]}}`,
		`{"event":"message_end","metadata":{"retriever_resources":[{"document_name":"second.pdf","content":"2"}]}}`,
		`[DONE]`,
	)
	client := &mockHTTPClient{responses: []*http.Response{mockResponse(200, body, testSessionID)}}
	sink := &memorySink{}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client, Citations: sink})
	if err := a.SendTurn(context.Background(), TurnRequest{Text: "q", OnDelta: rec.onDelta}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := rec.messages[1].Citations
	if len(got) != 1 || got[0].Source != "second.pdf" {
		t.Errorf("citations = %+v, want only second batch", got)
	}
	if sink.calls != 2 {
		t.Errorf("sink calls = %d, want 2", sink.calls)
	}
	if len(sink.citations) != 1 || sink.citations[0].Source != "second.pdf" {
		t.Errorf("last persisted batch = %+v", sink.citations)
	}
}

// =============================================================================
// SESSION HANDLING
// =============================================================================

func TestSendTurn_RetryOnStaleSession(t *testing.T) {
	client := &mockHTTPClient{responses: []*http.Response{
		mockResponse(404, "session not found", ""),
		mockResponse(200, frames(`{"event":"message","answer":"ok"}`, `[DONE]`), newSessionID),
	}}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})
	err := a.SendTurn(context.Background(), TurnRequest{
		Text:              "hi",
		SessionID:         testSessionID,
		OnDelta:           rec.onDelta,
		OnSessionAssigned: rec.onSession,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.calls != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", client.calls)
	}
	if client.bodies[0].SessionID != testSessionID {
		t.Errorf("first request session = %q", client.bodies[0].SessionID)
	}
	if client.bodies[1].SessionID != "" {
		t.Errorf("retry must omit session id, got %q", client.bodies[1].SessionID)
	}

	// The user message appears exactly once.
	users := 0
	for _, m := range rec.messages {
		if m.Role == chat.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Errorf("user messages = %d, want 1", users)
	}

	if len(rec.sessions) != 1 || rec.sessions[0] != newSessionID {
		t.Errorf("OnSessionAssigned = %v, want [%s]", rec.sessions, newSessionID)
	}
	if rec.messages[1].Content != "ok" {
		t.Errorf("assistant content = %q", rec.messages[1].Content)
	}
}

func TestSendTurn_NoRetryWithoutAttachedSession(t *testing.T) {
	client := &mockHTTPClient{responses: []*http.Response{mockResponse(404, "nope", "")}}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})
	err := a.SendTurn(context.Background(), TurnRequest{Text: "hi", OnDelta: rec.onDelta})
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if client.calls != 1 {
		t.Errorf("expected 1 request, got %d", client.calls)
	}
}

func TestSendTurn_InvalidSessionIDNotAttached(t *testing.T) {
	client := &mockHTTPClient{responses: []*http.Response{
		mockResponse(200, frames(`[DONE]`), newSessionID),
	}}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})
	err := a.SendTurn(context.Background(), TurnRequest{
		Text:      "hi",
		SessionID: "not-a-valid-session",
		OnDelta:   rec.onDelta,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.bodies[0].SessionID != "" {
		t.Errorf("invalid session id must not be attached, got %q", client.bodies[0].SessionID)
	}
}

func TestSendTurn_RetryOnlyOnce(t *testing.T) {
	client := &mockHTTPClient{responses: []*http.Response{
		mockResponse(404, "gone", ""),
		mockResponse(404, "still gone", ""),
	}}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})
	err := a.SendTurn(context.Background(), TurnRequest{
		Text:      "hi",
		SessionID: testSessionID,
		OnDelta:   rec.onDelta,
	})
	if err == nil {
		t.Fatal("expected terminal error after failed retry")
	}
	if client.calls != 2 {
		t.Errorf("expected exactly 2 requests, got %d", client.calls)
	}
}

// =============================================================================
// FAILURE SEMANTICS
// =============================================================================

func TestSendTurn_TerminalErrorPatch(t *testing.T) {
	client := &mockHTTPClient{errs: []error{errors.New("connection refused")}}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})
	err := a.SendTurn(context.Background(), TurnRequest{Text: "hi", OnDelta: rec.onDelta})
	if err == nil {
		t.Fatal("expected error")
	}

	// Placeholder content replaced exactly once, citations left empty.
	replaces := 0
	for _, p := range rec.patches {
		if p.Kind == PatchReplaceContent {
			replaces++
		}
	}
	if replaces != 1 {
		t.Errorf("replace-content patches = %d, want 1", replaces)
	}
	if !strings.Contains(rec.messages[1].Content, "Request failed") {
		t.Errorf("assistant content = %q, want error text", rec.messages[1].Content)
	}
	if len(rec.messages[1].Citations) != 0 {
		t.Errorf("citations = %+v, want empty", rec.messages[1].Citations)
	}
}

func TestSendTurn_MalformedFrameSkipped(t *testing.T) {
	body := frames(
		`{"event":"message","answer":"a"}`,
		`{broken json`,
		`{"event":"message","answer":"b"}`,
		`[DONE]`,
	)
	client := &mockHTTPClient{responses: []*http.Response{mockResponse(200, body, testSessionID)}}
	rec := &recorder{}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})
	if err := a.SendTurn(context.Background(), TurnRequest{Text: "q", OnDelta: rec.onDelta}); err != nil {
		t.Fatalf("malformed frame must not abort the turn: %v", err)
	}
	if got := rec.messages[1].Content; got != "ab" {
		t.Errorf("assistant content = %q, want %q", got, "ab")
	}
}

func TestSendTurn_EmptyText(t *testing.T) {
	rec := &recorder{}
	a := NewAssembler(Config{BaseURL: "http://backend", Client: &mockHTTPClient{}})

	if err := a.SendTurn(context.Background(), TurnRequest{Text: "   ", OnDelta: rec.onDelta}); err == nil {
		t.Error("expected error for blank text")
	}
	if len(rec.patches) != 0 {
		t.Errorf("no patches expected for rejected turn, got %d", len(rec.patches))
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

// blockingBody blocks reads until released, then returns an abort error.
type blockingBody struct {
	release chan struct{}
	served  string
	pos     int
}

func (b *blockingBody) Read(p []byte) (int, error) {
	if b.pos < len(b.served) {
		n := copy(p, b.served[b.pos:])
		b.pos += n
		return n, nil
	}
	<-b.release
	return 0, context.Canceled
}

func (b *blockingBody) Close() error { return nil }

func TestSendTurn_CancelMidStream(t *testing.T) {
	body := &blockingBody{
		release: make(chan struct{}),
		served:  frames(`{"event":"message","answer":"partial"}`),
	}
	resp := &http.Response{StatusCode: 200, Header: http.Header{}, Body: body}
	resp.Header.Set(SessionIDHeader, testSessionID)
	client := &mockHTTPClient{responses: []*http.Response{resp}}

	rec := &recorder{}
	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})

	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- a.SendTurn(context.Background(), TurnRequest{
			Text: "q",
			OnDelta: func(p Patch) {
				rec.onDelta(p)
				if p.Kind == PatchAppendContent {
					close(started)
				}
			},
		})
	}()

	<-started
	a.Cancel()
	close(body.release)

	if err := <-done; err != nil {
		t.Errorf("cancellation must be silent, got error %v", err)
	}

	// No error patch was emitted.
	for _, p := range rec.patches {
		if p.Kind == PatchReplaceContent {
			t.Errorf("unexpected error patch after cancel: %+v", p)
		}
	}
	if rec.messages[1].Content != "partial" {
		t.Errorf("assistant content = %q, want %q", rec.messages[1].Content, "partial")
	}
}

func TestSendTurn_CancelBeforeFirstByte(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &mockHTTPClient{errs: []error{context.Canceled}}
	rec := &recorder{}
	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})

	if err := a.SendTurn(ctx, TurnRequest{Text: "q", OnDelta: rec.onDelta}); err != nil {
		t.Errorf("cancelled turn must return nil, got %v", err)
	}
	for _, p := range rec.patches {
		if p.Kind == PatchReplaceContent {
			t.Error("no error patch expected on cancellation")
		}
	}
}

func TestSendTurn_NewTurnCancelsPrevious(t *testing.T) {
	body := &blockingBody{release: make(chan struct{}), served: ""}
	first := &http.Response{StatusCode: 200, Header: http.Header{}, Body: body}
	second := mockResponse(200, frames(`{"event":"message","answer":"new"}`, `[DONE]`), testSessionID)
	client := &mockHTTPClient{responses: []*http.Response{first, second}}

	var mu sync.Mutex
	rec := &recorder{}
	onDelta := func(p Patch) {
		mu.Lock()
		defer mu.Unlock()
		rec.onDelta(p)
	}

	a := NewAssembler(Config{BaseURL: "http://backend", Client: client})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- a.SendTurn(context.Background(), TurnRequest{Text: "old", OnDelta: onDelta})
	}()

	// Wait for the first turn's placeholder patches before starting the next.
	for {
		mu.Lock()
		n := len(rec.patches)
		mu.Unlock()
		if n >= 2 {
			break
		}
	}

	mu.Lock()
	prior := append([]chat.Message(nil), rec.messages...)
	mu.Unlock()

	err := a.SendTurn(context.Background(), TurnRequest{Text: "new", Prior: prior, OnDelta: onDelta})
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	close(body.release)
	if err := <-firstDone; err != nil {
		t.Errorf("cancelled first turn must be silent, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(rec.messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(rec.messages))
	}
	if rec.messages[3].Content != "new" {
		t.Errorf("newest assistant content = %q", rec.messages[3].Content)
	}
	// The stale first turn contributed nothing after cancellation.
	if rec.messages[1].Content != "" {
		t.Errorf("stale turn mutated its placeholder: %q", rec.messages[1].Content)
	}
}

// =============================================================================
// ORDINAL COMPUTATION
// =============================================================================

func TestSendTurn_AssistantOrdinal(t *testing.T) {
	prior := []chat.Message{
		{Role: chat.RoleUser, Content: "q1"},
		{Role: chat.RoleAssistant, Content: "a1"},
		{Role: chat.RoleUser, Content: "q2"},
		{Role: chat.RoleAssistant, Content: "a2"},
	}
	body := frames(
		`{"event":"message_end","metadata":{"retriever_resources":[{"document_name":"d.pdf","content":"c"}]}}`,
		`[DONE]`,
	)
	client := &mockHTTPClient{responses: []*http.Response{mockResponse(200, body, testSessionID)}}
	sink := &memorySink{}

	rec := &recorder{messages: append([]chat.Message(nil), prior...)}
	a := NewAssembler(Config{BaseURL: "http://backend", Client: client, Citations: sink})
	err := a.SendTurn(context.Background(), TurnRequest{
		Text:    "q3",
		Prior:   prior,
		OnDelta: rec.onDelta,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.ordinal != 3 {
		t.Errorf("assistant ordinal = %d, want 3", sink.ordinal)
	}
	if len(rec.messages) != 6 {
		t.Errorf("messages = %d, want 6", len(rec.messages))
	}
	if len(rec.messages[5].Citations) != 1 {
		t.Errorf("citations missing on new assistant message")
	}
}
