package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

const (
	// WelcomeID is the id of the seed message of the first session.
	WelcomeID = "welcome"

	DefaultTitle   = "New Chat"
	maxTitleLength = 40
)

// Message represents a single chat message
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
	IsError     bool      `json:"isError,omitempty"`
}

// Session represents a chat session
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// New creates a session seeded with one model message carrying welcome.
func New(welcome string) *Session {
	return newSession(uuid.NewString(), welcome)
}

// NewInitial is New with the seed message id fixed to WelcomeID, used for
// the session created at startup.
func NewInitial(welcome string) *Session {
	return newSession(WelcomeID, welcome)
}

func newSession(seedID, welcome string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: now,
		Messages: []Message{{
			ID:        seedID,
			Role:      RoleModel,
			Text:      welcome,
			Timestamp: now,
		}},
	}
}

// NewMessage builds a message with a fresh id.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Append adds m at the end of the sequence.
func (s *Session) Append(m Message) {
	s.Messages = append(s.Messages, m)
}

// Update applies fn to the message with the given id. It reports whether
// the message was found.
func (s *Session) Update(id string, fn func(*Message)) bool {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			fn(&s.Messages[i])
			return true
		}
	}
	return false
}

// Remove deletes the message with the given id, keeping the order of the
// others.
func (s *Session) Remove(id string) bool {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the message with the given id.
func (s *Session) Get(id string) (Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Streaming returns the message currently being streamed, if any.
func (s *Session) Streaming() (Message, bool) {
	for _, m := range s.Messages {
		if m.IsStreaming {
			return m, true
		}
	}
	return Message{}, false
}

// Last returns the final message of the sequence.
func (s *Session) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// SetTitleFrom names an untitled session after the first user message.
func (s *Session) SetTitleFrom(text string) {
	if s.Title != DefaultTitle {
		return
	}
	title := strings.Join(strings.Fields(text), " ")
	if title == "" {
		return
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength]) + "…"
	}
	s.Title = title
}

// Clone returns a deep copy.
func (s *Session) Clone() Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return c
}

// Validate checks the session invariants: unique message ids and at most
// one streaming message.
func (s *Session) Validate() error {
	seen := make(map[string]struct{}, len(s.Messages))
	streaming := 0
	for _, m := range s.Messages {
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate message id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.IsStreaming {
			streaming++
		}
	}
	if streaming > 1 {
		return fmt.Errorf("%d messages streaming at once", streaming)
	}
	return nil
}
