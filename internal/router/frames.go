// ABOUTME: Wire frames broadcast to a conversation's sessions
// ABOUTME: Every processed message yields an analysis frame followed by a response frame

package router

import "github.com/aura-ml/aura-orchestrator/internal/store"

const (
	frameAnalysis = "analysis"
	frameResponse = "response"
)

// analysisFrame carries the packet for the explainability view. A nil
// stage entry marshals to null, which is how absence reaches clients.
// Stages is null entirely when analysis could not be dispatched.
type analysisFrame struct {
	Type      string                        `json:"type"`
	MessageID string                        `json:"message_id"`
	Stages    map[string]*store.StageResult `json:"stages"`
	Complete  bool                          `json:"complete"`
	Error     string                        `json:"error,omitempty"`
}

// responseFrame carries the assistant reply, pre-rendered to HTML.
type responseFrame struct {
	Type    string          `json:"type"`
	Message responseMessage `json:"message"`
}

type responseMessage struct {
	ID       string `json:"id"`
	Author   string `json:"author"`
	Content  string `json:"content"`
	HTML     string `json:"html"`
	Sequence int64  `json:"sequence"`
}
