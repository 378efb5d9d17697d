package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/thezentroai/Zentro-AI/internal/session"
)

// Prompter reads one line of input. *liner.State satisfies it.
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// ScannerPrompter reads lines from a plain reader
type ScannerPrompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewScannerPrompter creates a prompter that echoes the prompt to out and
// reads lines from in.
func NewScannerPrompter(in io.Reader, out io.Writer) *ScannerPrompter {
	return &ScannerPrompter{scanner: bufio.NewScanner(in), out: out}
}

// Prompt prints prompt and returns the next line, or io.EOF.
func (p *ScannerPrompter) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

// REPL is the line-oriented chat loop
type REPL struct {
	bot      *ChatBot
	prompter Prompter
	out      io.Writer

	// streaming reply being printed
	replyID string
	printed int
}

// NewREPL creates a REPL for bot
func NewREPL(bot *ChatBot, prompter Prompter, out io.Writer) *REPL {
	return &REPL{bot: bot, prompter: prompter, out: out}
}

// Run reads lines until /quit, end of input or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	unsubscribe := r.bot.Subscribe(r.onSnapshot)
	defer unsubscribe()

	snap := r.bot.Snapshot()
	client := r.bot.Backend()

	fmt.Fprintln(r.out, "=== Zentro AI ===")
	fmt.Fprintf(r.out, "Session: %s\n", snap.Session.ID)
	fmt.Fprintf(r.out, "Backend: %s (%s)\n", client.Name(), client.Model())
	fmt.Fprintln(r.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(r.out)
	r.printSeed(snap.Session)

	for {
		if ctx.Err() != nil {
			break
		}

		line, err := r.prompter.Prompt("You: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if r.handleCommand(input) {
				break
			}
			continue
		}

		if err := r.bot.SendMessage(ctx, input); err != nil {
			return err
		}

		if last, ok := r.lastMessage(); ok && last.IsError {
			fmt.Fprintf(r.out, "Error: %s\n\n", last.Text)
		}
	}

	fmt.Fprintln(r.out, "Goodbye!")
	return nil
}

// handleCommand handles slash commands and reports whether to quit.
func (r *REPL) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)

	switch parts[0] {
	case "/quit", "/exit":
		return true

	case "/new", "/new-session":
		r.bot.NewChat()
		snap := r.bot.Snapshot()
		fmt.Fprintln(r.out, "Started new chat:", snap.Session.ID)
		r.printSeed(snap.Session)

	case "/help":
		fmt.Fprintln(r.out, "Available commands:")
		fmt.Fprintln(r.out, "  /new, /new-session  - Start a new chat")
		fmt.Fprintln(r.out, "  /quit, /exit        - Exit")
		fmt.Fprintln(r.out, "  /help               - Show this help message")

	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type /help)\n", parts[0])
	}
	return false
}

func (r *REPL) printSeed(s session.Session) {
	if len(s.Messages) > 0 {
		fmt.Fprintf(r.out, "Bot: %s\n\n", s.Messages[0].Text)
	}
}

func (r *REPL) lastMessage() (session.Message, bool) {
	snap := r.bot.Snapshot()
	return snap.Session.Last()
}

// onSnapshot prints the growing part of the streaming reply. It runs under
// the ChatBot lock, so calls are serialized.
func (r *REPL) onSnapshot(s Snapshot) {
	if r.replyID == "" {
		m, ok := s.Session.Streaming()
		if !ok {
			return
		}
		r.replyID = m.ID
	}

	m, ok := s.Session.Get(r.replyID)
	if !ok {
		r.endReply()
		return
	}

	if len(m.Text) > r.printed {
		if r.printed == 0 {
			fmt.Fprint(r.out, "Bot: ")
		}
		fmt.Fprint(r.out, m.Text[r.printed:])
		r.printed = len(m.Text)
	}

	if !m.IsStreaming {
		r.endReply()
	}
}

func (r *REPL) endReply() {
	if r.printed > 0 {
		fmt.Fprint(r.out, "\n\n")
	}
	r.replyID = ""
	r.printed = 0
}
