package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter reads answers from the UI's input, one line at a time.
type Prompter struct {
	ui     *UI
	reader *bufio.Reader
}

// Prompter returns a line reader over the UI input. Use a single Prompter per input.
func (u *UI) Prompter() *Prompter {
	return &Prompter{ui: u, reader: bufio.NewReader(u.in)}
}

// ReadLine reads one line without printing a prompt. It returns io.EOF when input ends.
func (p *Prompter) ReadLine() (string, error) {
	input, err := p.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && input != "" {
			return strings.TrimSpace(input), nil
		}
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// Prompt asks the user for input with a prompt message.
func (p *Prompter) Prompt(message string) (string, error) {
	fmt.Fprintf(p.ui.out, "%s: ", message)
	return p.ReadLine()
}

// Confirm asks the user for a yes/no confirmation.
func (p *Prompter) Confirm(message string, defaultValue bool) (bool, error) {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}

	input, err := p.Prompt(fmt.Sprintf("%s [%s]", message, defaultStr))
	if err != nil {
		return false, err
	}

	trimmed := strings.ToLower(input)
	if trimmed == "" {
		return defaultValue, nil
	}
	return trimmed == "y" || trimmed == "yes", nil
}

// ExpandPath expands a leading ~/ and checks that the file exists.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("unable to get home directory: %w", err)
		}
		path = strings.Replace(path, "~", home, 1)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("file not found: %s", path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}
