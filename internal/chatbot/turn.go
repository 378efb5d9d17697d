package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/thezentroai/Zentro-AI/internal/backend"
	"github.com/thezentroai/Zentro-AI/internal/session"
	"github.com/thezentroai/Zentro-AI/internal/telemetry"
)

// StreamErrorText is shown when the service fails during a turn.
const StreamErrorText = "I'm sorry, I encountered an error while processing your request. Please try again later."

// ErrorText returns the user-facing message for a failed turn.
func ErrorText(err error) string {
	var cfgErr *backend.ConfigurationError
	if errors.As(err, &cfgErr) {
		return fmt.Sprintf("Setup Error: the API key is missing or invalid. Set %s in the environment and restart Zentro.", cfgErr.EnvVar)
	}
	return StreamErrorText
}

type turnResult struct {
	fragments int
	chars     int
	err       error
	abandoned bool
}

// SendMessage runs one turn: it appends the user message and a streaming
// placeholder, streams the reply into the placeholder and finalizes it.
// Whitespace-only text is ignored. A second call waits until the previous
// turn has finished. Service failures end up in the conversation as an
// error message; the returned error only reports ctx ending while waiting
// for the previous turn.
func (cb *ChatBot) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if err := cb.turns.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to wait for previous turn: %w", err)
	}
	defer cb.turns.Release(1)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reply := session.NewMessage(session.RoleModel, "")
	reply.IsStreaming = true

	cb.mu.Lock()
	gen := cb.generation
	sessionID := cb.session.ID
	cb.session.SetTitleFrom(text)
	cb.session.Append(session.NewMessage(session.RoleUser, text))
	cb.session.Append(reply)
	cb.busy = true
	cb.cancelTurn = cancel
	cb.publishLocked()
	cb.mu.Unlock()

	startTime := time.Now()
	turnCtx, span := cb.tracer.Start(turnCtx, "chat_turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("backend", cb.client.Name()),
			attribute.String("model", cb.client.Model()),
			attribute.Int("message.length", len(text)),
		),
	)
	defer span.End()

	cb.logger.Debug("sending message", "session_id", sessionID, "length", len(text))

	res := cb.stream(turnCtx, gen, reply.ID, text)
	outcome := cb.finish(gen, reply.ID, res)
	duration := time.Since(startTime)

	span.SetAttributes(
		attribute.Int("fragments", res.fragments),
		attribute.Int("response.length", res.chars),
		attribute.String("outcome", outcome),
	)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, outcome)
	}

	attrs := metric.WithAttributes(
		attribute.String("backend", cb.client.Name()),
		attribute.String("outcome", outcome),
	)
	cb.turnCounter.Add(ctx, 1, attrs)
	cb.fragmentCounter.Add(ctx, int64(res.fragments), metric.WithAttributes(attribute.String("backend", cb.client.Name())))
	cb.turnDuration.Record(ctx, float64(duration.Milliseconds()), attrs)

	switch outcome {
	case telemetry.OutcomeCompleted:
		cb.logger.Info("turn completed", "session_id", sessionID, "fragments", res.fragments,
			"chars", res.chars, "duration_ms", duration.Milliseconds())
	case telemetry.OutcomeAbandoned:
		cb.logger.Info("turn abandoned", "session_id", sessionID, "fragments", res.fragments)
	default:
		cb.logger.Error("turn failed", "session_id", sessionID, "outcome", outcome,
			"fragments", res.fragments, "error", res.err)
	}

	cb.recordTurn(telemetry.TurnRecord{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Backend:   cb.client.Name(),
		Model:     cb.client.Model(),
		StartedAt: startTime,
		Duration:  duration,
		Fragments: res.fragments,
		Chars:     res.chars,
		Outcome:   outcome,
	})

	return nil
}

// stream ranges the backend's fragments into the placeholder. It stops as
// soon as the conversation it belongs to has been replaced.
func (cb *ChatBot) stream(ctx context.Context, gen uint64, replyID, text string) turnResult {
	var res turnResult
	for frag, err := range cb.client.SendMessageStream(ctx, text) {
		if err != nil {
			res.err = err
			break
		}

		cb.mu.Lock()
		if cb.generation != gen {
			cb.mu.Unlock()
			res.abandoned = true
			break
		}
		cb.session.Update(replyID, func(m *session.Message) {
			m.Text += frag
		})
		cb.publishLocked()
		cb.mu.Unlock()

		res.fragments++
		res.chars += len(frag)
	}
	return res
}

// finish moves the placeholder to its terminal state and returns the turn
// outcome. On failure, partial text stays in place, an empty placeholder is
// removed and one error message is appended.
func (cb *ChatBot) finish(gen uint64, replyID string, res turnResult) string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if res.abandoned || cb.generation != gen {
		return telemetry.OutcomeAbandoned
	}

	cb.busy = false
	cb.cancelTurn = nil

	if res.err == nil {
		cb.session.Update(replyID, func(m *session.Message) {
			m.IsStreaming = false
		})
		cb.publishLocked()
		return telemetry.OutcomeCompleted
	}

	if msg, ok := cb.session.Get(replyID); ok && msg.Text == "" {
		cb.session.Remove(replyID)
	} else {
		cb.session.Update(replyID, func(m *session.Message) {
			m.IsStreaming = false
		})
	}

	errMsg := session.NewMessage(session.RoleModel, ErrorText(res.err))
	errMsg.IsError = true
	cb.session.Append(errMsg)
	cb.publishLocked()

	var cfgErr *backend.ConfigurationError
	if errors.As(res.err, &cfgErr) {
		return telemetry.OutcomeConfigError
	}
	return telemetry.OutcomeStreamError
}

func (cb *ChatBot) recordTurn(rec telemetry.TurnRecord) {
	if cb.turnLog == nil {
		return
	}

	cb.recorders.Add(1)
	go func() {
		defer cb.recorders.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cb.turnLog.Record(ctx, rec); err != nil {
			cb.logger.Error("failed to save turn", "turn_id", rec.ID, "error", err)
		}
	}()
}
