// Package secret resolves operator secrets such as the RPC token signing key
// from the environment or an interactive prompt.
package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when the variable is unset and stdin cannot
// prompt.
var ErrNoTerminal = errors.New("secret: no terminal available")

// Source reads a secret once and caches the outcome.
type Source struct {
	envVar string
	label  string
	prompt io.Writer
	fd     int

	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting for label on stderr.
func NewSource(envVar, label string) *Source {
	return &Source{
		envVar:       strings.TrimSpace(envVar),
		label:        label,
		prompt:       os.Stderr,
		fd:           int(os.Stdin.Fd()),
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

// Get returns the secret. A variable that is set but blank is an error, as
// is a blank answer to the prompt.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.isTerminal(s.fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("%w: set %s", ErrNoTerminal, s.envVar)
		}
		return "", ErrNoTerminal
	}
	fmt.Fprintf(s.prompt, "Enter %s: ", s.label)
	raw, err := s.readPassword(s.fd)
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.label, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("%s cannot be empty", s.label)
	}
	return string(raw), nil
}
