package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/harrybrwn/lem/internal/session"
)

type prompter struct {
	in  io.Reader
	out io.Writer
	r   *bufio.Reader
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out, r: bufio.NewReader(in)}
}

// secret reads a line without echoing it when reading from a terminal.
func (p *prompter) secret(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", errors.Wrap(err, "failed to read from terminal")
		}
		return string(b), nil
	}
	return p.line()
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprint(p.out, label)
	return p.line()
}

func (p *prompter) line() (string, error) {
	s, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || len(s) == 0) {
		return "", errors.WithStack(err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// bell rings the terminal bell when a login attempt fails.
func bell(w io.Writer) session.Notifier {
	return session.NotifierFunc(func(s session.Signal) {
		if s == session.SignalFailure {
			fmt.Fprint(w, "\a")
		}
	})
}
