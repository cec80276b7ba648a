package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atriumhq/atrium/pkg/agent"
	"github.com/atriumhq/atrium/pkg/registry"
)

type agentListResponse struct {
	Agents []registry.AgentSummary `json:"agents"`
}

type chatResponse struct {
	Success bool              `json:"success"`
	Data    *agent.ChatOutput `json:"data"`
	TraceID string            `json:"traceId"`
}

// streamFrame is a server-minted chat stream frame. Agent chunks are
// forwarded as-is between the start and done frames.
type streamFrame struct {
	Type    string `json:"type"`
	TraceID string `json:"traceId,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agentListResponse{Agents: s.registry.List()})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.registry.GetConfig(chi.URLParam(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registry.AgentSummary{
		Path:        cfg.Path,
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ag, err := s.registry.Get(chi.URLParam(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	input, err := decodeChatInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	start := time.Now()
	out, err := ag.Chat(r.Context(), input)
	s.recordAgentCall(r.Context(), ag.ID(), start, out, err)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success: true,
		Data:    out,
		TraceID: TraceID(r.Context()),
	})
}

// handleChatStream streams a turn as SSE data frames: a start frame, the
// agent's chunks, then a done frame. A turn that ends on an error chunk
// gets no done frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	ag, err := s.registry.Get(chi.URLParam(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	input, err := decodeChatInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Cancelled when a write stalls past its deadline or the client goes
	// away, which stops the turn at its next step.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := stream.writeData(streamFrame{Type: "start", TraceID: TraceID(r.Context())}); err != nil {
		return
	}

	start := time.Now()
	failed := false
	var usage *agent.Usage
	for chunk := range ag.ChatStream(ctx, input) {
		switch chunk.Type {
		case agent.ChunkTypeError:
			failed = true
		case agent.ChunkTypeFinish:
			usage = chunk.Usage
		}
		if err := stream.writeData(chunk); err != nil {
			cancel()
			s.recordAgentStream(r.Context(), ag.ID(), start, usage, failed)
			return
		}
	}
	s.recordAgentStream(r.Context(), ag.ID(), start, usage, failed)

	if failed {
		return
	}
	_ = stream.writeData(streamFrame{Type: "done"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"agents":  s.registry.Count(),
		"version": s.version,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func decodeChatInput(r *http.Request) (*agent.ChatInput, error) {
	var input agent.ChatInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return nil, badRequest("invalid request body: %v", err)
	}
	if strings.TrimSpace(input.Message) == "" {
		return nil, badRequest("message is required")
	}
	return &input, nil
}

func (s *Server) recordAgentCall(ctx context.Context, agentID string, start time.Time, out *agent.ChatOutput, err error) {
	if s.obs == nil {
		return
	}
	tokens := 0
	if out != nil && out.Usage != nil {
		tokens = out.Usage.TotalTokens
	}
	s.obs.Metrics().RecordAgentCall(ctx, agentID, time.Since(start), tokens, err)
}

func (s *Server) recordAgentStream(ctx context.Context, agentID string, start time.Time, usage *agent.Usage, failed bool) {
	if s.obs == nil {
		return
	}
	tokens := 0
	if usage != nil {
		tokens = usage.TotalTokens
	}
	var err error
	if failed {
		err = errStreamFailed
	}
	s.obs.Metrics().RecordAgentCall(ctx, agentID, time.Since(start), tokens, err)
}
