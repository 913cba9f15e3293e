// Package conversation owns the in-memory conversation registry and the
// chat turn flow around the completion provider.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"
)

// Roles the service itself writes. Callers may send any role string.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Lifecycle states and triggers
const (
	StateActive = "Active"
	StateEnded  = "Ended"

	TriggerEnd = "End"
)

// Turn is one role-tagged message within a conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func newTurn(role, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Conversation is a named, growing sequence of turns plus its lifecycle state.
// mu serialises whole chat turns; every method below expects it held.
type Conversation struct {
	mu sync.Mutex

	id        string
	turns     []Turn
	fsm       *stateless.StateMachine
	createdAt time.Time
	endedAt   time.Time

	// number of turns already handed to the journal
	recorded int
}

func newConversation(id, systemPrompt string) *Conversation {
	c := &Conversation{
		id:        id,
		turns:     []Turn{newTurn(RoleSystem, systemPrompt)},
		createdAt: time.Now(),
	}

	fsm := stateless.NewStateMachine(StateActive)
	fsm.Configure(StateActive).
		Permit(TriggerEnd, StateEnded)
	fsm.Configure(StateEnded).
		OnEntry(func(_ context.Context, _ ...any) error {
			c.endedAt = time.Now()
			return nil
		}).
		Ignore(TriggerEnd)
	c.fsm = fsm

	return c
}

func (c *Conversation) active() bool {
	return c.fsm.MustState() == StateActive
}

func (c *Conversation) end() error {
	return c.fsm.Fire(TriggerEnd)
}

func (c *Conversation) append(role, content string) Turn {
	t := newTurn(role, content)
	c.turns = append(c.turns, t)
	return t
}

// messages renders the full turn sequence as provider context.
func (c *Conversation) messages() []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(c.turns))
	for i, t := range c.turns {
		out[i] = openai.ChatCompletionMessage{Role: t.Role, Content: t.Content}
	}
	return out
}

// Snapshot is a point-in-time copy of a conversation.
type Snapshot struct {
	ID        string    `json:"conversation_id"`
	Active    bool      `json:"active"`
	Turns     []Turn    `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

func (c *Conversation) snapshot() Snapshot {
	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	return Snapshot{
		ID:        c.id,
		Active:    c.active(),
		Turns:     turns,
		CreatedAt: c.createdAt,
		EndedAt:   c.endedAt,
	}
}
