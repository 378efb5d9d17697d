package web

import (
	"bytes"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/thezentroai/Zentro-AI/internal/chatbot"
	"github.com/thezentroai/Zentro-AI/internal/session"
)

// wireMessage is a message plus its rendered HTML
type wireMessage struct {
	session.Message
	HTML string `json:"html,omitempty"`
}

type wireSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"createdAt"`
	Messages  []wireMessage `json:"messages"`
}

// serverEvent is sent to the browser
type serverEvent struct {
	Type    string      `json:"type"`
	Session wireSession `json:"session"`
	Busy    bool        `json:"busy"`
	Model   string      `json:"model,omitempty"`
}

// clientEvent is received from the browser
type clientEvent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	eventSnapshot = "snapshot"
	eventSend     = "send"
	eventNewChat  = "new_chat"
)

// renderer turns markdown into sanitized HTML. Raw HTML in the source is
// dropped by goldmark and whatever survives goes through the UGC policy.
type renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newRenderer() *renderer {
	return &renderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
	}
}

func (r *renderer) html(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return string(r.policy.SanitizeBytes(buf.Bytes())), nil
}

// snapshotEvent converts s to its wire form. Error messages are sent as
// plain text only.
func (r *renderer) snapshotEvent(s chatbot.Snapshot, model string) serverEvent {
	msgs := make([]wireMessage, 0, len(s.Session.Messages))
	for _, m := range s.Session.Messages {
		wm := wireMessage{Message: m}
		if !m.IsError && m.Text != "" {
			html, err := r.html(m.Text)
			if err == nil {
				wm.HTML = html
			}
		}
		msgs = append(msgs, wm)
	}

	return serverEvent{
		Type: eventSnapshot,
		Session: wireSession{
			ID:        s.Session.ID,
			Title:     s.Session.Title,
			CreatedAt: s.Session.CreatedAt,
			Messages:  msgs,
		},
		Busy:  s.Busy,
		Model: model,
	}
}
