package main

import (
	"errors"
	"io"
	"strings"

	"github.com/peterh/liner"
)

// linePrompter is a chatbot.Prompter with line editing and history.
type linePrompter struct {
	state *liner.State
}

func newLinePrompter() *linePrompter {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	return &linePrompter{state: state}
}

// Prompt reads a line. Ctrl+C and Ctrl+D both end the session.
func (p *linePrompter) Prompt(prompt string) (string, error) {
	line, err := p.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		p.state.AppendHistory(line)
	}
	return line, nil
}

func (p *linePrompter) Close() error {
	return p.state.Close()
}
