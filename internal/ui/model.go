// Package ui is the terminal chat view: a sidebar, a scrolling message list
// and an input box, driven by conversation snapshots.
package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/thezentroai/Zentro-AI/internal/chatbot"
)

const (
	sidebarWidth = 34
	inputHeight  = 3
	// input border plus the status line
	chromeHeight = 3
)

// Conversation is the chat state the view renders and drives.
type Conversation interface {
	Snapshot() chatbot.Snapshot
	Subscribe(fn func(chatbot.Snapshot)) func()
	SendMessage(ctx context.Context, text string) error
	NewChat()
}

// Options configures the view
type Options struct {
	AppName   string
	ModelName string
	// MarkdownStyle is a glamour standard style name; empty means auto.
	MarkdownStyle string
}

type snapshotMsg chatbot.Snapshot

type sendDoneMsg struct {
	err error
}

// Model is the bubbletea model for the chat view
type Model struct {
	ctx  context.Context
	conv Conversation
	opts Options

	snap     chatbot.Snapshot
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int
	ready  bool
	err    error
}

// NewModel creates the view for conv
func NewModel(ctx context.Context, conv Conversation, opts Options) Model {
	if opts.AppName == "" {
		opts.AppName = "Zentro AI"
	}

	ta := textarea.New()
	ta.Placeholder = "Ask me anything... (Enter to send, Alt+Enter for newline)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	ta.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))

	m := Model{
		ctx:      ctx,
		conv:     conv,
		opts:     opts,
		snap:     conv.Snapshot(),
		textarea: ta,
		spinner:  sp,
	}
	m.renderer = m.newRenderer(80)
	return m
}

func (m Model) newRenderer(width int) *glamour.TermRenderer {
	style := glamour.WithAutoStyle()
	if m.opts.MarkdownStyle != "" {
		style = glamour.WithStandardStyle(m.opts.MarkdownStyle)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(max(width, 20)))
	if err != nil {
		return nil
	}
	return r
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "ctrl+n":
			conv := m.conv
			m.textarea.Reset()
			return m, func() tea.Msg {
				conv.NewChat()
				return nil
			}

		case "enter":
			if m.snap.Busy {
				return m, nil
			}
			text := m.textarea.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			m.textarea.Reset()
			m.err = nil
			return m, m.send(text)
		}

	case snapshotMsg:
		wasBusy := m.snap.Busy
		m.snap = chatbot.Snapshot(msg)
		m.refresh()
		if m.snap.Busy && !wasBusy {
			return m, m.spinner.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if !m.snap.Busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd

	case sendDoneMsg:
		m.err = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) send(text string) tea.Cmd {
	ctx, conv := m.ctx, m.conv
	return func() tea.Msg {
		return sendDoneMsg{err: conv.SendMessage(ctx, text)}
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	chatWidth := max(width-sidebarWidth, 20)
	vpHeight := max(height-inputHeight-chromeHeight, 1)

	if !m.ready {
		m.viewport = viewport.New(chatWidth, vpHeight)
		// letters belong to the input box
		m.viewport.KeyMap = viewport.KeyMap{
			PageUp:   key.NewBinding(key.WithKeys("pgup")),
			PageDown: key.NewBinding(key.WithKeys("pgdown")),
		}
		m.ready = true
	} else {
		m.viewport.Width = chatWidth
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(chatWidth - 2)
	m.renderer = m.newRenderer(chatWidth - 4)
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

// Run starts the TUI and blocks until it exits. Snapshots published by conv
// are forwarded to the program; when the view falls behind only the latest
// one is kept.
func Run(ctx context.Context, conv Conversation, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(ctx, conv, opts), tea.WithAltScreen(), tea.WithContext(ctx))

	latest := make(chan chatbot.Snapshot, 1)
	unsubscribe := conv.Subscribe(func(s chatbot.Snapshot) {
		offer(latest, s)
	})
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-latest:
				p.Send(snapshotMsg(s))
			}
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// offer puts v in ch, replacing a value nobody has read yet. Callers must
// not race each other.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
