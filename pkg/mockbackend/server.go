// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mockbackend implements a local stand-in for the chat backend.
//
// It speaks the same wire protocol the assembler consumes: chunked
// "data: {...}" frames separated by blank lines, message deltas, a
// metadata frame carrying retriever resources, and a [DONE] sentinel,
// with the authoritative session id in the response header. Useful for
// demos and for exercising the full client path without a live backend.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/tidechat/pkg/chat"
	"github.com/AleutianAI/tidechat/pkg/stream"
)

// Config holds configuration for the mock server.
type Config struct {
	// FramesPerSecond paces delta frames so streaming is visible in a
	// terminal. Zero means no pacing.
	FramesPerSecond float64

	// ChunkRunes is the delta size per frame in runes. Default: 4.
	ChunkRunes int

	// Logger for request logging. Default: slog.Default.
	Logger *slog.Logger

	// Debug enables gin's debug mode and request logging.
	Debug bool
}

// Server is the mock chat backend.
//
// Sessions live in memory for the life of the process. A request naming a
// session this server never minted is rejected with 404, which is exactly
// the stale-session condition the client's retry path handles.
type Server struct {
	engine  *gin.Engine
	logger  *slog.Logger
	limiter *rate.Limiter
	chunk   int

	mu       sync.Mutex
	sessions map[string][]chat.MessageRecord // session id -> full transcript
}

// chatRequest mirrors the client's request body.
type chatRequest struct {
	Message         string `json:"message"`
	SessionID       string `json:"sessionId"`
	KnowledgeBaseID string `json:"knowledgeBaseId"`
}

// New creates a mock server.
func New(cfg Config) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunk := cfg.ChunkRunes
	if chunk <= 0 {
		chunk = 4
	}

	s := &Server{
		logger:   logger,
		chunk:    chunk,
		sessions: make(map[string][]chat.MessageRecord),
	}
	if cfg.FramesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.FramesPerSecond), 1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.POST("/api/chat", s.handleChat)
	router.GET("/api/messages", s.handleMessages)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine = router
	return s
}

// Handler returns the http.Handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the server on addr and blocks.
func (s *Server) Run(addr string) error {
	s.logger.Info("mock backend listening", "addr", addr)
	if err := s.engine.Run(addr); err != nil {
		return fmt.Errorf("run mock backend: %w", err)
	}
	return nil
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	sessionID, err := s.resolveSession(req)
	if err != nil {
		// Unknown session id: the client is expected to drop it and retry.
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	c.Header(stream.SessionIDHeader, sessionID)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	s.logger.Info("chat turn",
		"session_id", sessionID,
		"knowledge_base_id", req.KnowledgeBaseID,
		"message_len", len(req.Message),
	)

	answer := s.composeAnswer(sessionID, req.Message)
	for _, delta := range splitRunes(answer, s.chunk) {
		if !s.pace(c) {
			return
		}
		s.writeFrame(c, flusher, gin.H{"event": "message", "answer": delta})
	}

	s.writeFrame(c, flusher, gin.H{
		"event": "metadata",
		"metadata": gin.H{
			"retriever_resources": s.composeResources(req),
		},
	})
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()

	s.record(sessionID, "ASSISTANT", answer)
}

// handleMessages serves a session's transcript for conversation resumption.
func (s *Server) handleMessages(c *gin.Context) {
	sessionID := c.Query("sessionId")

	s.mu.Lock()
	records, ok := s.sessions[sessionID]
	out := append([]chat.MessageRecord(nil), records...)
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// resolveSession validates or mints the session id.
func (s *Server) resolveSession(req chatRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.SessionID != "" {
		if _, ok := s.sessions[req.SessionID]; !ok {
			return "", fmt.Errorf("unknown session %q", req.SessionID)
		}
		s.sessions[req.SessionID] = append(s.sessions[req.SessionID], s.newRecord("USER", req.Message))
		return req.SessionID, nil
	}

	id := uuid.NewString()
	s.sessions[id] = []chat.MessageRecord{s.newRecord("USER", req.Message)}
	return id, nil
}

// record appends a transcript entry after a turn completes.
func (s *Server) record(sessionID, role, content string) {
	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID], s.newRecord(role, content))
	s.mu.Unlock()
}

func (s *Server) newRecord(role, content string) chat.MessageRecord {
	return chat.MessageRecord{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// pace waits for the frame limiter; false when the client went away.
func (s *Server) pace(c *gin.Context) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Wait(c.Request.Context()) == nil
}

func (s *Server) writeFrame(c *gin.Context, flusher http.Flusher, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal frame", "error", err)
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	flusher.Flush()
}

// composeAnswer builds a deterministic canned reply. Multi-byte characters
// are included on purpose so chunked framing gets exercised end to end.
func (s *Server) composeAnswer(sessionID, message string) string {
	s.mu.Lock()
	turn := 0
	for _, r := range s.sessions[sessionID] {
		if r.Role == "USER" {
			turn++
		}
	}
	s.mu.Unlock()

	return fmt.Sprintf(
		"Echoing turn %d — you asked: %q. This mock reply streams in small chunks so the client’s incremental rendering is easy to observe.",
		turn, message,
	)
}

// composeResources fabricates a citation batch for the metadata frame.
func (s *Server) composeResources(req chatRequest) []chat.RetrieverResource {
	doc := "mock-handbook.pdf"
	dataset := "mock-dataset"
	score := 0.93
	position := 1

	resources := []chat.RetrieverResource{
		{
			DocumentName: &doc,
			DatasetName:  &dataset,
			Content:      "A passage retrieved for: " + req.Message,
			Score:        &score,
			Position:     &position,
		},
		{
			// No document or dataset name: exercises the client's
			// unknown-source fallback.
			Content: "An unattributed passage.",
		},
	}
	return resources
}

// splitRunes chunks s into rune-aligned pieces of at most n runes.
func splitRunes(s string, n int) []string {
	var chunks []string
	runes := []rune(s)
	for start := 0; start < len(runes); start += n {
		end := start + n
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
