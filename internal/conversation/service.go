package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/groqchat/internal/history"
	"github.com/comigor/groqchat/internal/logger"
)

const defaultProviderTimeout = 60 * time.Second

// Provider produces a reply for the full message context.
type Provider interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error)
}

// Recorder receives every turn appended to any conversation.
type Recorder interface {
	Record(ctx context.Context, msg history.Message) error
}

// ChatRequest is one inbound user turn.
type ChatRequest struct {
	ConversationID string
	Message        string
	Role           string // defaults to "user"
}

// ChatResponse carries the assistant reply.
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// Service applies chat turns to conversations held in a Store.
type Service struct {
	store    *Store
	provider Provider
	recorder Recorder
	timeout  time.Duration
	logger   *slog.Logger
}

type Option func(*Service)

// WithRecorder journals every turn to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService wires a store to a completion provider.
func NewService(store *Store, provider Provider, opts ...Option) *Service {
	s := &Service{
		store:    store,
		provider: provider,
		timeout:  defaultProviderTimeout,
		logger:   logger.Component("conversation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleChat appends the caller's turn, asks the provider for a reply with
// the whole history as context, appends the reply and returns it.
//
// Turns on one conversation are serialised. A provider failure leaves the
// caller's turn in place without an assistant turn.
func (s *Service) HandleChat(ctx context.Context, req ChatRequest) (resp *ChatResponse, err error) {
	conv, created := s.store.GetOrCreate(req.ConversationID)
	if created {
		s.logger.Info("conversation created", "conversation_id", req.ConversationID)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if !conv.active() {
		return nil, ErrInactiveSession
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("chat turn panicked", "conversation_id", req.ConversationID, "panic", r)
			resp, err = nil, &InternalError{Message: fmt.Sprint(r)}
		}
	}()

	role := req.Role
	if role == "" {
		role = RoleUser
	}
	conv.append(role, req.Message)
	s.journal(ctx, conv)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	reply, err := s.provider.Complete(callCtx, conv.messages())
	if err != nil {
		s.logger.Error("completion failed", "conversation_id", req.ConversationID, "turns", len(conv.turns), "error", err)
		return nil, &ProviderError{Err: err}
	}
	s.logger.Debug("completion received", "conversation_id", req.ConversationID, "elapsed", time.Since(started), "length", len(reply))

	conv.append(RoleAssistant, reply)
	s.journal(ctx, conv)

	return &ChatResponse{Response: reply, ConversationID: req.ConversationID}, nil
}

// EndSession deactivates a conversation. Later chats on it fail with
// ErrInactiveSession. Ending an already ended conversation is a no-op.
func (s *Service) EndSession(ctx context.Context, id string) error {
	conv, ok := s.store.Get(id)
	if !ok {
		return ErrConversationNotFound
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if err := conv.end(); err != nil {
		return &InternalError{Message: err.Error(), Err: err}
	}
	s.logger.Info("conversation ended", "conversation_id", id, "turns", len(conv.turns))
	return nil
}

// History returns a copy of a conversation's turns and state.
func (s *Service) History(ctx context.Context, id string) (Snapshot, error) {
	conv, ok := s.store.Get(id)
	if !ok {
		return Snapshot{}, ErrConversationNotFound
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.snapshot(), nil
}

// journal hands turns not yet recorded to the recorder, in order. Failures are
// logged and retried with the next turn.
func (s *Service) journal(ctx context.Context, conv *Conversation) {
	if s.recorder == nil {
		conv.recorded = len(conv.turns)
		return
	}
	for conv.recorded < len(conv.turns) {
		t := conv.turns[conv.recorded]
		err := s.recorder.Record(ctx, history.Message{
			ConversationID: conv.id,
			TurnID:         t.ID,
			Role:           t.Role,
			Content:        t.Content,
			CreatedAt:      t.CreatedAt,
		})
		if err != nil {
			s.logger.Warn("failed to journal turn", "conversation_id", conv.id, "turn_id", t.ID, "error", err)
			return
		}
		conv.recorded++
	}
}
