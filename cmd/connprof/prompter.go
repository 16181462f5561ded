package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"
)

// terminalPrompter is a line-oriented prompter. Secret input is read
// without echo when the input is a terminal. With noInput every question is
// cancelled; confirmations then depend on assumeYes alone.
type terminalPrompter struct {
	mu        sync.Mutex
	in        *bufio.Reader
	fd        int // terminal descriptor, -1 when input is not a terminal
	out       io.Writer
	assumeYes bool
	noInput   bool
}

func newTerminalPrompter(in io.Reader, out io.Writer, assumeYes bool) *terminalPrompter {
	p := &terminalPrompter{in: bufio.NewReader(in), fd: -1, out: out, assumeYes: assumeYes}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

// readLine returns the next input line without its terminator. ok is false
// at end of input or when ctx is done.
func (p *terminalPrompter) readLine(ctx context.Context, secret bool) (string, bool) {
	if p.noInput || ctx.Err() != nil {
		return "", false
	}
	if secret && p.fd >= 0 {
		raw, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

func (p *terminalPrompter) SelectProfile(ctx context.Context, title string, names []string) (string, bool) {
	if len(names) == 0 {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, title)
	for i, name := range names {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, name)
	}
	fmt.Fprint(p.out, "Select a profile (number or name, empty to cancel): ")
	answer, ok := p.readLine(ctx, false)
	answer = strings.TrimSpace(answer)
	if !ok || answer == "" {
		return "", false
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(names) {
			return "", false
		}
		return names[n-1], true
	}
	for _, name := range names {
		if strings.EqualFold(name, answer) {
			return name, true
		}
	}
	return "", false
}

func (p *terminalPrompter) Confirm(ctx context.Context, message string) bool {
	if p.assumeYes {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s [y/N]: ", message)
	answer, ok := p.readLine(ctx, false)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (p *terminalPrompter) Input(ctx context.Context, label, current string, secret bool) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current != "" && !secret {
		fmt.Fprintf(p.out, "%s [%s]: ", label, current)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	answer, ok := p.readLine(ctx, secret)
	if !ok {
		return "", false
	}
	if !secret {
		answer = strings.TrimSpace(answer)
	}
	return answer, true
}

func (p *terminalPrompter) Notify(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, msg)
}
