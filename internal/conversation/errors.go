package conversation

import "errors"

var (
	// ErrInactiveSession is returned when a chat targets an ended conversation.
	ErrInactiveSession = errors.New("chat session has ended")

	ErrConversationNotFound = errors.New("conversation not found")
)

// ProviderError wraps a failure of the completion provider.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "error querying completion provider: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// InternalError reports an unexpected failure while processing a turn.
type InternalError struct {
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	return e.Message
}

func (e *InternalError) Unwrap() error { return e.Err }
