// ABOUTME: Routes inbound client events through analysis, response, and broadcast
// ABOUTME: A per-conversation sequencer keeps message ordering strict under concurrency

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-ml/aura-orchestrator/internal/pipeline"
	"github.com/aura-ml/aura-orchestrator/internal/respond"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

var (
	// ErrUnknownEventType rejects inbound frames with an unrecognized type.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrClosed is returned once the router has begun shutting down.
	ErrClosed = errors.New("router closed")
)

// Inbound event types as they appear on the wire.
const (
	EventMessage = "message"
	EventAudio   = "audio"
	EventVideo   = "video"
)

// InboundEvent is one decoded client frame plus its authenticated sender.
type InboundEvent struct {
	Type     string
	Payload  string
	UserID   string
	ClientTS time.Time
}

// Store is the slice of the store the router needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	MaxSequence(ctx context.Context, conversationID string) (int64, error)
	AppendMessage(ctx context.Context, msg *store.Message) error
	SavePacket(ctx context.Context, packet *store.AnalysisPacket) error
	TouchConversation(ctx context.Context, id string, updatedAt time.Time) error
}

// Pipeline runs the analysis stages over one message.
type Pipeline interface {
	Run(ctx context.Context, msg *store.Message) (*store.AnalysisPacket, error)
}

// Responder produces the assistant reply for an analyzed message.
type Responder interface {
	Generate(ctx context.Context, conversationID string, packet *store.AnalysisPacket) (*store.Message, error)
}

// Memory triggers history consolidation after appends.
type Memory interface {
	MaybeConsolidate(ctx context.Context, conversationID string) (bool, error)
}

// Broadcaster delivers payloads to a conversation's live sessions.
// The session registry implements it.
type Broadcaster interface {
	Broadcast(conversationID string, payload []byte) int
}

// Config configures the router.
type Config struct {
	Store     Store
	Pipeline  Pipeline
	Responder Responder
	Memory    Memory
	Registry  Broadcaster
	Logger    *slog.Logger // pass nil for default
}

// Router is the top-level entry point for inbound events. Events for
// the same conversation are processed strictly one at a time in arrival
// order; distinct conversations proceed in parallel.
type Router struct {
	store     Store
	pipeline  Pipeline
	responder Responder
	memory    Memory
	registry  Broadcaster
	logger    *slog.Logger

	mu     sync.Mutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

// queue holds the pending tasks for one conversation. Guarded by the
// router's mutex; a single drain goroutine consumes it.
type queue struct {
	tasks   []*task
	running bool
}

type task struct {
	ctx   context.Context
	event InboundEvent
	done  chan error
}

// New creates a router.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:     cfg.Store,
		pipeline:  cfg.Pipeline,
		responder: cfg.Responder,
		memory:    cfg.Memory,
		registry:  cfg.Registry,
		logger:    logger.With("component", "router"),
		queues:    make(map[string]*queue),
	}
}

// HandleInbound sequences and processes one inbound event. It returns
// once the event has been fully processed, or with the store error that
// aborted it, in which case the event was not acknowledged and the
// client may retry.
//
// Cancelling ctx stops the wait but not the work: an event that already
// entered its conversation's queue runs to completion so reconnecting
// clients see consistent history. Only its broadcasts go nowhere.
func (r *Router) HandleInbound(ctx context.Context, conversationID string, event InboundEvent) error {
	if _, err := kindForEvent(event.Type); err != nil {
		return err
	}

	t := &task{
		ctx:   context.WithoutCancel(ctx),
		event: event,
		done:  make(chan error, 1),
	}
	if err := r.enqueue(conversationID, t); err != nil {
		return err
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) enqueue(conversationID string, t *task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	q, ok := r.queues[conversationID]
	if !ok {
		q = &queue{}
		r.queues[conversationID] = q
	}
	q.tasks = append(q.tasks, t)
	if !q.running {
		q.running = true
		r.wg.Add(1)
		go r.drain(conversationID, q)
	}
	return nil
}

// drain consumes the conversation's queue serially and retires the
// queue once empty. The delete under the lock makes a later enqueue
// start a fresh queue, so idle conversations hold no goroutine.
func (r *Router) drain(conversationID string, q *queue) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			delete(r.queues, conversationID)
			r.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		r.mu.Unlock()

		t.done <- r.process(t.ctx, conversationID, t.event)
	}
}

// Close stops accepting events and waits for queued work to finish.
// In-flight runs are bounded by their stage timeouts.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.logger.Info("router draining")
	r.wg.Wait()
	r.logger.Info("router stopped")
}

// process runs the full lifecycle for one inbound event: persist,
// analyze, respond, persist, consolidate, broadcast.
func (r *Router) process(ctx context.Context, conversationID string, event InboundEvent) error {
	start := time.Now()

	kind, err := kindForEvent(event.Type)
	if err != nil {
		return err
	}
	if _, err := r.store.GetConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	maxSeq, err := r.store.MaxSequence(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reading sequence: %w", err)
	}

	inbound := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Author:         event.UserID,
		Role:           store.RoleUser,
		Kind:           kind,
		Content:        event.Payload,
		Sequence:       maxSeq + 1,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.store.AppendMessage(ctx, inbound); err != nil {
		return fmt.Errorf("persisting inbound message: %w", err)
	}

	var analysis analysisFrame
	packet, err := r.pipeline.Run(ctx, inbound)
	if err != nil {
		// The message is already persisted; tell the clients analysis
		// is unavailable and keep going so a response still happens.
		r.logger.Error("pipeline dispatch failed",
			"conversation_id", conversationID,
			"message_id", inbound.ID,
			"error", err,
		)
		analysis = analysisFrame{
			Type:      frameAnalysis,
			MessageID: inbound.ID,
			Complete:  false,
			Error:     "analysis unavailable",
		}
		packet = &store.AnalysisPacket{
			MessageID:      inbound.ID,
			ConversationID: conversationID,
			Stages:         map[string]*store.StageResult{},
			Complete:       false,
			CreatedAt:      time.Now().UTC(),
		}
	} else {
		if err := r.store.SavePacket(ctx, packet); err != nil {
			return fmt.Errorf("persisting analysis packet: %w", err)
		}
		analysis = analysisFrame{
			Type:      frameAnalysis,
			MessageID: packet.MessageID,
			Stages:    packet.Stages,
			Complete:  packet.Complete,
		}
	}

	response, err := r.responder.Generate(ctx, conversationID, packet)
	if err != nil {
		return fmt.Errorf("generating response: %w", err)
	}
	response.Sequence = inbound.Sequence + 1
	if err := r.store.AppendMessage(ctx, response); err != nil {
		return fmt.Errorf("persisting response message: %w", err)
	}

	if err := r.store.TouchConversation(ctx, conversationID, time.Now().UTC()); err != nil {
		// Both messages are durable at this point; a stale updated-at
		// stamp is not worth failing the run over.
		r.logger.Warn("touch conversation failed",
			"conversation_id", conversationID,
			"error", err,
		)
	}

	if _, err := r.memory.MaybeConsolidate(ctx, conversationID); err != nil {
		r.logger.Warn("memory consolidation failed",
			"conversation_id", conversationID,
			"error", err,
		)
	}

	r.broadcastFrame(conversationID, analysis)
	r.broadcastFrame(conversationID, responseFrame{
		Type: frameResponse,
		Message: responseMessage{
			ID:       response.ID,
			Author:   response.Author,
			Content:  response.Content,
			HTML:     respond.RenderHTML(response.Content),
			Sequence: response.Sequence,
		},
	})

	r.logger.Info("message routed",
		"conversation_id", conversationID,
		"message_id", inbound.ID,
		"sequence", inbound.Sequence,
		"kind", kind,
		"complete", packet.Complete,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func kindForEvent(eventType string) (string, error) {
	switch eventType {
	case EventMessage:
		return store.KindText, nil
	case EventAudio:
		return store.KindAudio, nil
	case EventVideo:
		return store.KindVideo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

func (r *Router) broadcastFrame(conversationID string, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("marshaling broadcast frame", "error", err)
		return
	}
	r.registry.Broadcast(conversationID, payload)
}

var _ Pipeline = (*pipeline.Orchestrator)(nil)
