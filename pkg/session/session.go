// Package session manages a long-lived interactive interpreter subprocess.
// Scripts are evaluated by writing them to the interpreter's stdin wrapped
// between sentinel markers (ETX on success, NAK on failure) and reading the
// merged output until a marker shows up. Spawning an interpreter is expensive,
// evaluating in a running one is cheap, which is the whole point.
package session

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

const (
	markerOK  = "\x03"
	markerErr = "\x15"
)

// ErrClosed is returned by Eval after the session was closed or its process
// exited.
var ErrClosed = eris.New("session is closed")

// Config controls which interpreter a session runs and how scripts are
// submitted to it.
type Config struct {
	// Command and Args name the interpreter binary, default is a POSIX sh.
	Command string
	Args    []string
	// Dir is the working directory of the interpreter.
	Dir string
	// Env is the interpreter's environment, nil inherits the current one.
	Env []string
	// Wrap turns a script into the text sent for one Eval, including the
	// commands that emit the sentinel markers. The default wraps for a
	// POSIX shell.
	Wrap func(script string) string
	// ExitCmd is written to the interpreter before the process is stopped.
	ExitCmd string
}

func (c *Config) fillDefaults() {
	if c.Command == "" {
		c.Command = "sh"
	}
	if c.Wrap == nil {
		c.Wrap = wrapPosix
	}
	if c.ExitCmd == "" {
		c.ExitCmd = "exit\n"
	}
}

// The leading newline puts the marker on its own line even when the script's
// output doesn't end with one.
func wrapPosix(script string) string {
	return "if { " + script + "\n}\nthen printf '\\n\\3\\n'\nelse printf '\\n\\25\\n'\nfi\n"
}

// Session is a running interpreter subprocess. Eval calls are serialized, the
// protocol has no way to interleave two scripts on one stdin.
type Session struct {
	cfg   Config
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string

	mu     sync.Mutex
	closed bool
}

// Spawn starts the interpreter. The context only covers the startup, a
// session outlives the Spawn call.
func Spawn(ctx context.Context, cfg Config) (*Session, error) {
	cfg.fillDefaults()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env

	reader, writer := io.Pipe()
	cmd.Stdout = writer
	cmd.Stderr = writer

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, eris.Wrap(err, "failed to open stdin pipe")
	}

	err = cmd.Start()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to start %s", cfg.Command)
	}

	go func() {
		writer.CloseWithError(cmd.Wait())
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	return &Session{
		cfg:   cfg,
		cmd:   cmd,
		stdin: stdin,
		lines: lines,
	}, nil
}

// Eval runs the given script in the session and returns its combined output.
// A failing script returns an error carrying the captured output; the session
// stays usable afterwards. A cancelled context kills the interpreter.
func (s *Session) Eval(ctx context.Context, script string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	_, err := io.WriteString(s.stdin, s.cfg.Wrap(script))
	if err != nil {
		s.closeLocked()
		return "", eris.Wrap(err, "failed to send script to session")
	}

	collected := make([]string, 0)
	for {
		select {
		case <-ctx.Done():
			s.closeLocked()
			return "", eris.Wrap(ctx.Err(), "session evaluation aborted")
		case line, ok := <-s.lines:
			if !ok {
				s.closeLocked()
				return "", eris.Wrapf(ErrClosed, "interpreter exited while evaluating:\n%s", strings.Join(collected, "\n"))
			}

			switch strings.TrimRight(line, "\r") {
			case markerOK:
				return strings.Join(trimMarkerBreak(collected), "\n"), nil
			case markerErr:
				return "", eris.Errorf("session script failed:\n%s", strings.Join(trimMarkerBreak(collected), "\n"))
			default:
				collected = append(collected, line)
			}
		}
	}
}

// trimMarkerBreak drops the empty line caused by the newline the wrapper
// prints in front of its marker.
func trimMarkerBreak(lines []string) []string {
	if n := len(lines); n > 0 && lines[n-1] == "" {
		return lines[:n-1]
	}
	return lines
}

// Restart stops the interpreter and starts a fresh one with the same
// configuration.
func (s *Session) Restart(ctx context.Context) error {
	s.Close()

	replacement, err := Spawn(ctx, s.cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cmd = replacement.cmd
	s.stdin = replacement.stdin
	s.lines = replacement.lines
	s.closed = false
	s.mu.Unlock()
	return nil
}

// Close asks the interpreter to exit and terminates it. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true

	// ask nicely first, the kill below covers interpreters that ignore it
	io.WriteString(s.stdin, s.cfg.ExitCmd)
	s.stdin.Close()

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}

	return nil
}
