package conversation

import "sync"

// Store is the process-wide registry of conversations. Entries are created
// lazily and never removed.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	systemPrompt  string
}

// NewStore creates an empty registry whose conversations are seeded with systemPrompt.
func NewStore(systemPrompt string) *Store {
	return &Store{
		conversations: make(map[string]*Conversation),
		systemPrompt:  systemPrompt,
	}
}

// Get returns the conversation for id, if one exists.
func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// GetOrCreate returns the conversation for id, creating it on first use.
// created reports whether this call made it.
func (s *Store) GetOrCreate(id string) (c *Conversation, created bool) {
	if c, ok := s.Get(id); ok {
		return c, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return c, false
	}
	c = newConversation(id, s.systemPrompt)
	s.conversations[id] = c
	return c, true
}

// Len reports how many conversations are registered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
