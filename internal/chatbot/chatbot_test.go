package chatbot

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/thezentroai/Zentro-AI/internal/backend"
	"github.com/thezentroai/Zentro-AI/internal/config"
	"github.com/thezentroai/Zentro-AI/internal/session"
	"github.com/thezentroai/Zentro-AI/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient yields a fixed script of fragments per send. When gate is set,
// it waits on gate after the first fragment, ignoring ctx.
type fakeClient struct {
	fragments []string
	err       error
	gate      chan struct{}

	mu       sync.Mutex
	sent     []string
	newChats int
}

func (f *fakeClient) StartNewChat() {
	f.mu.Lock()
	f.newChats++
	f.mu.Unlock()
}

func (f *fakeClient) SendMessageStream(ctx context.Context, text string) iter.Seq2[string, error] {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for i, frag := range f.fragments {
			if !yield(frag, nil) {
				return
			}
			if i == 0 && f.gate != nil {
				<-f.gate
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func (f *fakeClient) Name() string  { return "fake" }
func (f *fakeClient) Model() string { return "fake-model" }

type fakeRecorder struct {
	mu      sync.Mutex
	records []telemetry.TurnRecord
}

func (r *fakeRecorder) Record(_ context.Context, rec telemetry.TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func newTestBot(t *testing.T, client backend.Client, opts ...Option) *ChatBot {
	t.Helper()
	cb := New(config.Default(), client, opts...)
	t.Cleanup(cb.Close)
	return cb
}

func streamingCount(s session.Session) int {
	n := 0
	for _, m := range s.Messages {
		if m.IsStreaming {
			n++
		}
	}
	return n
}

func errorMessages(s session.Session) []session.Message {
	var out []session.Message
	for _, m := range s.Messages {
		if m.IsError {
			out = append(out, m)
		}
	}
	return out
}

func TestNew_SeedsSession(t *testing.T) {
	cb := newTestBot(t, &fakeClient{})

	snap := cb.Snapshot()
	require.Len(t, snap.Session.Messages, 1)
	seed := snap.Session.Messages[0]
	assert.Equal(t, session.WelcomeID, seed.ID)
	assert.Equal(t, session.RoleModel, seed.Role)
	assert.Equal(t, config.DefaultWelcomeMessage, seed.Text)
	assert.Equal(t, session.DefaultTitle, snap.Session.Title)
	assert.False(t, snap.Busy)
}

func TestSendMessage_AppendsUserAndPlaceholderFirst(t *testing.T) {
	cb := newTestBot(t, &fakeClient{fragments: []string{"Hel", "lo", " world"}})

	var snaps []Snapshot
	cb.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })
	require.Len(t, snaps, 1, "current state is delivered on subscribe")
	snaps = nil

	require.NoError(t, cb.SendMessage(context.Background(), "hi there"))

	require.NotEmpty(t, snaps)
	first := snaps[0]
	require.Len(t, first.Session.Messages, 3)
	assert.True(t, first.Busy)

	user := first.Session.Messages[1]
	assert.Equal(t, session.RoleUser, user.Role)
	assert.Equal(t, "hi there", user.Text)
	assert.False(t, user.IsStreaming)

	reply := first.Session.Messages[2]
	assert.Equal(t, session.RoleModel, reply.Role)
	assert.Empty(t, reply.Text)
	assert.True(t, reply.IsStreaming)
}

func TestSendMessage_AssemblesFragments(t *testing.T) {
	client := &fakeClient{fragments: []string{"Hel", "lo", " world"}}
	cb := newTestBot(t, client)

	var texts []string
	cb.Subscribe(func(s Snapshot) {
		if last, ok := s.Session.Last(); ok && last.Role == session.RoleModel {
			texts = append(texts, last.Text)
		}
	})
	texts = nil

	require.NoError(t, cb.SendMessage(context.Background(), "hi"))

	assert.Equal(t, []string{"", "Hel", "Hello", "Hello world", "Hello world"}, texts)

	snap := cb.Snapshot()
	require.Len(t, snap.Session.Messages, 3)
	reply := snap.Session.Messages[2]
	assert.Equal(t, "Hello world", reply.Text)
	assert.False(t, reply.IsStreaming)
	assert.False(t, reply.IsError)
	assert.False(t, snap.Busy)
	assert.Equal(t, "hi", snap.Session.Title)
	assert.NoError(t, snap.Session.Validate())
	assert.Equal(t, []string{"hi"}, client.sent)
}

func TestSendMessage_WhitespaceIsIgnored(t *testing.T) {
	client := &fakeClient{fragments: []string{"x"}}
	cb := newTestBot(t, client)

	published := 0
	cb.Subscribe(func(Snapshot) { published++ })
	published = 0

	before := cb.Snapshot()
	for _, text := range []string{"", "   ", "\n\t "} {
		require.NoError(t, cb.SendMessage(context.Background(), text))
	}
	after := cb.Snapshot()

	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("session changed (-before +after):\n%s", diff)
	}
	assert.Zero(t, published)
	assert.Empty(t, client.sent)
}

func TestSendMessage_FailureAfterPartialOutput(t *testing.T) {
	client := &fakeClient{
		fragments: []string{"Par", "tial"},
		err:       &backend.StreamError{Backend: "fake", Fragments: 2, Err: io.ErrUnexpectedEOF},
	}
	cb := newTestBot(t, client)

	require.NoError(t, cb.SendMessage(context.Background(), "hi"))

	snap := cb.Snapshot()
	assert.Zero(t, streamingCount(snap.Session))
	errs := errorMessages(snap.Session)
	require.Len(t, errs, 1)
	assert.Equal(t, StreamErrorText, errs[0].Text)
	assert.Equal(t, session.RoleModel, errs[0].Role)

	require.Len(t, snap.Session.Messages, 4)
	assert.Equal(t, "Partial", snap.Session.Messages[2].Text)
	assert.False(t, snap.Busy)
}

func TestSendMessage_ConfigurationErrorBeforeFirstFragment(t *testing.T) {
	client := &fakeClient{
		err: &backend.ConfigurationError{Backend: "fake", EnvVar: config.EnvGeminiKey},
	}
	cb := newTestBot(t, client)

	require.NoError(t, cb.SendMessage(context.Background(), "hi"))

	snap := cb.Snapshot()
	require.Len(t, snap.Session.Messages, 3, "empty placeholder is replaced by the error message")
	assert.Equal(t, session.RoleUser, snap.Session.Messages[1].Role)

	last := snap.Session.Messages[2]
	assert.True(t, last.IsError)
	assert.False(t, last.IsStreaming)
	assert.Contains(t, last.Text, config.EnvGeminiKey)
	assert.Zero(t, streamingCount(snap.Session))
}

func TestNewChat_ReplacesSession(t *testing.T) {
	client := &fakeClient{fragments: []string{"ok"}}
	cb := newTestBot(t, client)

	require.NoError(t, cb.SendMessage(context.Background(), "first question"))
	old := cb.Snapshot()

	cb.NewChat()

	snap := cb.Snapshot()
	require.Len(t, snap.Session.Messages, 1)
	assert.Equal(t, session.RoleModel, snap.Session.Messages[0].Role)
	assert.Equal(t, config.DefaultWelcomeMessage, snap.Session.Messages[0].Text)
	assert.Equal(t, session.DefaultTitle, snap.Session.Title)
	assert.NotEqual(t, old.Session.ID, snap.Session.ID)
	assert.Greater(t, snap.Generation, old.Generation)
	assert.Equal(t, 1, client.newChats)
}

func TestNewChat_DropsInFlightFragments(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{fragments: []string{"early", " late"}, gate: gate}
	rec := &fakeRecorder{}
	cb := newTestBot(t, client, WithTurnLog(rec))

	firstFragment := make(chan struct{})
	var once sync.Once
	cb.Subscribe(func(s Snapshot) {
		if m, ok := s.Session.Streaming(); ok && m.Text == "early" {
			once.Do(func() { close(firstFragment) })
		}
	})

	done := make(chan error, 1)
	go func() { done <- cb.SendMessage(context.Background(), "hi") }()

	<-firstFragment
	cb.NewChat()
	close(gate)
	require.NoError(t, <-done)

	snap := cb.Snapshot()
	require.Len(t, snap.Session.Messages, 1)
	assert.Equal(t, config.DefaultWelcomeMessage, snap.Session.Messages[0].Text)
	assert.False(t, snap.Busy)

	cb.Close()
	require.Len(t, rec.records, 1)
	assert.Equal(t, telemetry.OutcomeAbandoned, rec.records[0].Outcome)
}

func TestSendMessage_SecondSendWaits(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{fragments: []string{"a", "b"}, gate: gate}
	cb := newTestBot(t, client)

	var mu sync.Mutex
	var violations []error
	maxMessages := 0
	cb.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if err := s.Session.Validate(); err != nil {
			violations = append(violations, err)
		}
		if streamingCount(s.Session) > 1 {
			violations = append(violations, errors.New("two streaming messages"))
		}
		maxMessages = max(maxMessages, len(s.Session.Messages))
	})

	var wg sync.WaitGroup
	started := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		close(started)
		assert.NoError(t, cb.SendMessage(context.Background(), "one"))
	}()
	<-started
	go func() {
		defer wg.Done()
		assert.NoError(t, cb.SendMessage(context.Background(), "two"))
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	snap := cb.Snapshot()
	assert.Len(t, snap.Session.Messages, 5)
	assert.Zero(t, streamingCount(snap.Session))
	for _, m := range snap.Session.Messages[1:] {
		if m.Role == session.RoleModel {
			assert.Equal(t, "ab", m.Text)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, violations)
	assert.Equal(t, 5, maxMessages)
}

func TestSendMessage_WaitRespectsContext(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{fragments: []string{"a", "b"}, gate: gate}
	cb := newTestBot(t, client)

	firstFragment := make(chan struct{})
	var once sync.Once
	cb.Subscribe(func(s Snapshot) {
		if m, ok := s.Session.Streaming(); ok && m.Text == "a" {
			once.Do(func() { close(firstFragment) })
		}
	})

	done := make(chan error, 1)
	go func() { done <- cb.SendMessage(context.Background(), "one") }()
	<-firstFragment

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := cb.SendMessage(ctx, "two")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	require.NoError(t, <-done)
	assert.Len(t, cb.Snapshot().Session.Messages, 3)
}

func TestSendMessage_RecordsTurn(t *testing.T) {
	rec := &fakeRecorder{}
	cb := New(config.Default(), &fakeClient{fragments: []string{"Hel", "lo", " world"}}, WithTurnLog(rec))

	require.NoError(t, cb.SendMessage(context.Background(), "hi"))
	sessionID := cb.Snapshot().Session.ID
	cb.Close()

	require.Len(t, rec.records, 1)
	got := rec.records[0]
	assert.Equal(t, telemetry.OutcomeCompleted, got.Outcome)
	assert.Equal(t, sessionID, got.SessionID)
	assert.Equal(t, "fake", got.Backend)
	assert.Equal(t, "fake-model", got.Model)
	assert.Equal(t, 3, got.Fragments)
	assert.Equal(t, 11, got.Chars)
	assert.NotEmpty(t, got.ID)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	cb := newTestBot(t, &fakeClient{fragments: []string{"x"}})

	calls := 0
	unsubscribe := cb.Subscribe(func(Snapshot) { calls++ })
	assert.Equal(t, 1, calls)
	cb.NewChat()
	assert.Equal(t, 2, calls)

	unsubscribe()
	cb.NewChat()
	assert.Equal(t, 2, calls)
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, StreamErrorText, ErrorText(errors.New("boom")))
	assert.Contains(t, ErrorText(&backend.ConfigurationError{EnvVar: config.EnvOpenAIKey}), config.EnvOpenAIKey)
}
