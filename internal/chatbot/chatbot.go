package chatbot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/thezentroai/Zentro-AI/internal/backend"
	"github.com/thezentroai/Zentro-AI/internal/config"
	"github.com/thezentroai/Zentro-AI/internal/session"
	"github.com/thezentroai/Zentro-AI/internal/telemetry"
)

// Snapshot is a copy of the conversation state handed to views.
type Snapshot struct {
	Session    session.Session
	Busy       bool // A turn is in flight
	Generation uint64
}

// TurnRecorder persists turn records
type TurnRecorder interface {
	Record(ctx context.Context, rec telemetry.TurnRecord) error
}

type listener struct {
	id int
	fn func(Snapshot)
}

// ChatBot owns the active conversation: the message sequence, the
// streaming client and the turn lifecycle.
type ChatBot struct {
	config  config.Config
	client  backend.Client
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	turnLog TurnRecorder
	closers []func()

	turns     *semaphore.Weighted
	recorders sync.WaitGroup

	mu           sync.Mutex
	session      *session.Session
	generation   uint64
	busy         bool
	cancelTurn   context.CancelFunc
	listeners    []listener
	nextListener int

	turnCounter     metric.Int64Counter
	fragmentCounter metric.Int64Counter
	turnDuration    metric.Float64Histogram
}

// Option configures a ChatBot
type Option func(*ChatBot)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(cb *ChatBot) { cb.logger = logger }
}

// WithTelemetry sets the tracer and meter
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(cb *ChatBot) {
		cb.tracer = tracer
		cb.meter = meter
	}
}

// WithTurnLog records every finished turn
func WithTurnLog(rec TurnRecorder) Option {
	return func(cb *ChatBot) { cb.turnLog = rec }
}

// New creates a ChatBot around client. The conversation starts with the
// configured welcome message.
func New(cfg config.Config, client backend.Client, opts ...Option) *ChatBot {
	tracer, meter := telemetry.Noop()
	cb := &ChatBot{
		config:  cfg,
		client:  client,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  tracer,
		meter:   meter,
		turns:   semaphore.NewWeighted(1),
		session: session.NewInitial(cfg.WelcomeMessage),
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.initInstruments()
	cb.logger.Info("created new session", "session_id", cb.session.ID, "backend", client.Name())
	return cb
}

// NewChatBot wires a ChatBot from configuration: rotating log file,
// OpenTelemetry exporters, the turn log and the configured backend.
func NewChatBot(cfg config.Config) (*ChatBot, error) {
	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	closers := []func(){func() { logFile.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	opts := []Option{WithLogger(logger)}

	if cfg.Telemetry {
		tracer, meter, shutdown, err := telemetry.InitTelemetry(context.Background(), cfg.LogDir)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		closers = append(closers, shutdown)
		opts = append(opts, WithTelemetry(tracer, meter))
	}

	if cfg.DBPath != "" {
		turnLog, err := telemetry.OpenTurnLog(cfg.DBPath)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		closers = append(closers, func() {
			if err := turnLog.Close(); err != nil {
				logger.Error("failed to close turn log", "error", err)
			}
		})
		opts = append(opts, WithTurnLog(turnLog))
	}

	client, err := backend.New(cfg, logger)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	cb := New(cfg, client, opts...)
	cb.closers = closers
	return cb, nil
}

func (cb *ChatBot) initInstruments() {
	var err error
	if cb.turnCounter, err = cb.meter.Int64Counter("zentro.turns",
		metric.WithDescription("Chat turns by outcome")); err != nil {
		cb.logger.Warn("failed to create counter", "name", "zentro.turns", "error", err)
		cb.turnCounter = metricnoop.Int64Counter{}
	}
	if cb.fragmentCounter, err = cb.meter.Int64Counter("zentro.fragments",
		metric.WithDescription("Streamed response fragments")); err != nil {
		cb.logger.Warn("failed to create counter", "name", "zentro.fragments", "error", err)
		cb.fragmentCounter = metricnoop.Int64Counter{}
	}
	if cb.turnDuration, err = cb.meter.Float64Histogram("zentro.turn.duration",
		metric.WithDescription("Turn duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		cb.logger.Warn("failed to create histogram", "name", "zentro.turn.duration", "error", err)
		cb.turnDuration = metricnoop.Float64Histogram{}
	}
}

// Backend returns the streaming client
func (cb *ChatBot) Backend() backend.Client {
	return cb.client
}

// Snapshot returns the current conversation state
func (cb *ChatBot) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.snapshotLocked()
}

func (cb *ChatBot) snapshotLocked() Snapshot {
	return Snapshot{
		Session:    cb.session.Clone(),
		Busy:       cb.busy,
		Generation: cb.generation,
	}
}

// Subscribe calls fn with the current snapshot and then again after every
// state change. fn runs while the ChatBot's lock is held: it must return
// quickly and must not call back into the ChatBot.
func (cb *ChatBot) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.nextListener++
	id := cb.nextListener
	cb.listeners = append(cb.listeners, listener{id: id, fn: fn})
	fn(cb.snapshotLocked())

	return func() {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		for i, l := range cb.listeners {
			if l.id == id {
				cb.listeners = append(cb.listeners[:i], cb.listeners[i+1:]...)
				return
			}
		}
	}
}

func (cb *ChatBot) publishLocked() {
	if len(cb.listeners) == 0 {
		return
	}
	snap := cb.snapshotLocked()
	for _, l := range cb.listeners {
		l.fn(snap)
	}
}

// NewChat replaces the conversation with a fresh one. A turn still in
// flight is cancelled and its remaining fragments are dropped.
func (cb *ChatBot) NewChat() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.cancelTurn != nil {
		cb.cancelTurn()
		cb.cancelTurn = nil
	}
	cb.generation++
	cb.busy = false
	cb.session = session.New(cb.config.WelcomeMessage)
	cb.client.StartNewChat()

	cb.logger.Info("created new session", "session_id", cb.session.ID, "generation", cb.generation)
	cb.publishLocked()
}

// Close waits for pending turn records and releases telemetry resources.
func (cb *ChatBot) Close() {
	cb.mu.Lock()
	if cb.cancelTurn != nil {
		cb.cancelTurn()
	}
	cb.mu.Unlock()

	cb.recorders.Wait()
	for i := len(cb.closers) - 1; i >= 0; i-- {
		cb.closers[i]()
	}
	cb.closers = nil
}
