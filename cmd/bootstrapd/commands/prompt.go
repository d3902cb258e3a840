package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
)

var errNoInput = ferrors.ValidationError("no password on standard input").Build()

// prompter reads secrets from the terminal without echo, or line by line
// when standard input is not a terminal.
type prompter struct {
	out  io.Writer
	tty  *os.File
	line *bufio.Reader
}

func newPrompter(g *Global) *prompter {
	p := &prompter{out: g.Stderr}
	if f, ok := g.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = f
		return p
	}
	p.line = bufio.NewReader(g.Stdin)
	return p
}

func (p *prompter) password(label string) (string, error) {
	if p.tty != nil {
		fmt.Fprint(p.out, label)
		b, err := term.ReadPassword(int(p.tty.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	s, err := p.line.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		if errors.Is(err, io.EOF) {
			return "", errNoInput
		}
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// newPassword asks twice and requires both answers to match.
func (p *prompter) newPassword() (string, error) {
	first, err := p.password("New password: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", ferrors.ValidationError("password must not be empty (use --no-password)").Build()
	}
	second, err := p.password("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", ferrors.ValidationError("passwords do not match").Build()
	}
	return first, nil
}
