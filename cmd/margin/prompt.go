package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// promptLine prints prompt to stderr and reads one line from stdin.
func (c *cli) promptLine(prompt string) (string, error) {
	fmt.Fprint(c.stderr, prompt)
	line, err := c.lines().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptPassword reads a password without echo when stdin is a terminal and
// falls back to a plain line otherwise, so passwords can be piped in.
func (c *cli) promptPassword(prompt string) (string, error) {
	f, ok := c.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return c.promptLine(prompt)
	}
	fmt.Fprint(c.stderr, prompt)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(c.stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func (c *cli) lines() *bufio.Reader {
	if c.reader == nil {
		c.reader = bufio.NewReader(c.stdin)
	}
	return c.reader
}
