// Package mcpserver exposes read and summary operations on sessions as MCP
// tools over streamable HTTP, so assistants can query meeting transcripts.
//
// Tools:
//   - session_status: processing status and fragment progress
//   - session_transcript: speaker-turn or plain transcript text
//   - session_summarize: cached or regenerated structured summary
//   - search_chunks: semantic search over an organization's transcript chunks
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/meetscribe/internal/sessions"
	"github.com/MrWong99/meetscribe/internal/summary"
	"github.com/MrWong99/meetscribe/pkg/store"
)

// Implementation identifies the server during the MCP handshake.
const (
	serverName    = "meetscribe"
	serverVersion = "1.0.0"
)

// Search result bounds.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// Sessions is the session service used by the tools.
type Sessions interface {
	Status(ctx context.Context, org, id uuid.UUID) (*sessions.Status, error)
	Transcript(ctx context.Context, org, id uuid.UUID) (string, error)
	Summarize(ctx context.Context, org, id uuid.UUID, force bool, prompt string) (*summary.Result, error)
}

// Searcher runs vector similarity search over transcript chunks.
type Searcher interface {
	SearchChunks(ctx context.Context, orgID uuid.UUID, embedding []float32, limit int) ([]store.ChunkMatch, error)
}

// Embedder embeds search queries.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// SessionInput selects one session. OrganizationID scopes the lookup.
type SessionInput struct {
	OrganizationID string `json:"organization_id" jsonschema:"organization that owns the session"`
	SessionID      string `json:"session_id" jsonschema:"session id"`
}

// TranscriptOutput is the result of session_transcript.
type TranscriptOutput struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// SummarizeInput is the input of session_summarize.
type SummarizeInput struct {
	OrganizationID string `json:"organization_id" jsonschema:"organization that owns the session"`
	SessionID      string `json:"session_id" jsonschema:"session id"`
	Force          bool   `json:"force,omitempty" jsonschema:"regenerate even when a summary is cached"`
	Prompt         string `json:"prompt,omitempty" jsonschema:"instructions replacing the session summary prompt"`
}

// SearchInput is the input of search_chunks.
type SearchInput struct {
	OrganizationID string `json:"organization_id" jsonschema:"organization whose sessions are searched"`
	Query          string `json:"query" jsonschema:"natural-language search query"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum number of matches, default 10"`
}

// Match is one search hit.
type Match struct {
	SessionID    string  `json:"session_id"`
	ChunkID      string  `json:"chunk_id"`
	Content      string  `json:"content"`
	StartSeconds int     `json:"start_seconds"`
	EndSeconds   *int    `json:"end_seconds,omitempty"`
	Speaker      string  `json:"speaker,omitempty"`
	Distance     float64 `json:"distance"`
}

// SearchOutput is the result of search_chunks.
type SearchOutput struct {
	Matches []Match `json:"matches"`
}

// Server hosts the MCP tools.
type Server struct {
	sessions Sessions
	searcher Searcher
	embedder Embedder
	mcp      *mcpsdk.Server
}

// New creates a Server and registers its tools.
func New(svc Sessions, searcher Searcher, embedder Embedder) *Server {
	s := &Server{
		sessions: svc,
		searcher: searcher,
		embedder: embedder,
		mcp:      mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: serverVersion}, nil),
	}
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "session_status",
		Description: "Get the processing status of a recorded session, including how many audio fragments were received and processed.",
	}, s.status)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "session_transcript",
		Description: "Get the transcript of a processed session, split into speaker turns when diarization is available.",
	}, s.transcript)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "session_summarize",
		Description: "Get the structured summary of a session (summary, action items, topics). Generates it if missing or when force is set.",
	}, s.summarize)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "search_chunks",
		Description: "Semantic search over transcript excerpts of all sessions of an organization.",
	}, s.search)
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// Handler returns the streamable HTTP handler serving the tools.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

func parseIDs(org, id string) (uuid.UUID, uuid.UUID, error) {
	o, err := uuid.Parse(org)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid organization_id: %w", err)
	}
	i, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid session_id: %w", err)
	}
	return o, i, nil
}

// userError maps service errors to messages safe to show to a caller.
func userError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sessions.ErrForbidden):
		return errors.New("session not found")
	case errors.Is(err, sessions.ErrTranscriptUnavailable):
		return errors.New("transcript not available yet")
	}
	return err
}

func (s *Server) status(ctx context.Context, _ *mcpsdk.CallToolRequest, in SessionInput) (*mcpsdk.CallToolResult, *sessions.Status, error) {
	org, id, err := parseIDs(in.OrganizationID, in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	st, err := s.sessions.Status(ctx, org, id)
	if err != nil {
		return nil, nil, userError(err)
	}
	return nil, st, nil
}

func (s *Server) transcript(ctx context.Context, _ *mcpsdk.CallToolRequest, in SessionInput) (*mcpsdk.CallToolResult, *TranscriptOutput, error) {
	org, id, err := parseIDs(in.OrganizationID, in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	text, err := s.sessions.Transcript(ctx, org, id)
	if err != nil {
		return nil, nil, userError(err)
	}
	return nil, &TranscriptOutput{SessionID: id.String(), Text: text}, nil
}

func (s *Server) summarize(ctx context.Context, _ *mcpsdk.CallToolRequest, in SummarizeInput) (*mcpsdk.CallToolResult, *summary.Result, error) {
	org, id, err := parseIDs(in.OrganizationID, in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.sessions.Summarize(ctx, org, id, in.Force, in.Prompt)
	if err != nil {
		return nil, nil, userError(err)
	}
	return nil, res, nil
}

func (s *Server) search(ctx context.Context, _ *mcpsdk.CallToolRequest, in SearchInput) (*mcpsdk.CallToolResult, *SearchOutput, error) {
	org, err := uuid.Parse(in.OrganizationID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid organization_id: %w", err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, nil, errors.New("query must not be empty")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	found, err := s.searcher.SearchChunks(ctx, org, vec, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("search: %w", err)
	}
	out := &SearchOutput{Matches: make([]Match, 0, len(found))}
	for _, m := range found {
		match := Match{
			SessionID:    m.Chunk.SessionID.String(),
			ChunkID:      m.Chunk.ID.String(),
			Content:      m.Chunk.Content,
			StartSeconds: m.Chunk.StartSeconds,
			EndSeconds:   m.Chunk.EndSeconds,
			Distance:     m.Distance,
		}
		if m.Chunk.SpeakerTag != nil {
			match.Speaker = *m.Chunk.SpeakerTag
		}
		out.Matches = append(out.Matches, match)
	}
	return nil, out, nil
}
