// Package prompt asks the user for connection details that were not
// configured anywhere else.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	easysftp "github.com/VikingPathak/Easy-SFTP"
)

const (
	HostLabel     = "Enter SFTP HOST     : "
	UserLabel     = "Enter SFTP USERNAME : "
	PasswordLabel = "Enter SFTP PASSWORD : "
)

// Prompter reads answers from In and writes labels to Out.
type Prompter struct {
	in  io.Reader
	out io.Writer
	r   *bufio.Reader

	// readPassword reads without echo when In is a terminal.
	readPassword func(fd int) ([]byte, error)
	isTerminal   func(fd int) bool
}

// New returns a Prompter. Passwords are read without echo when in is a
// terminal.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:           in,
		out:          out,
		r:            bufio.NewReader(in),
		readPassword: term.ReadPassword,
		isTerminal:   term.IsTerminal,
	}
}

// Line prints label and returns the next input line without its newline.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Password prints label and reads a secret.
func (p *Prompter) Password(label string) (string, error) {
	if f, ok := p.in.(*os.File); ok && p.isTerminal(int(f.Fd())) {
		fmt.Fprint(p.out, label)
		b, err := p.readPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return p.Line(label)
}

// Resolve fills in a missing host, user and, when password authentication
// would be used, password.
func (p *Prompter) Resolve(config *easysftp.Config) error {
	var err error
	if config.Host == "" {
		if config.Host, err = p.Line(HostLabel); err != nil {
			return err
		}
	}
	if config.User == "" {
		if config.User, err = p.Line(UserLabel); err != nil {
			return err
		}
	}
	if config.NeedsPassword() {
		if config.Password, err = p.Password(PasswordLabel); err != nil {
			return err
		}
	}
	return nil
}
