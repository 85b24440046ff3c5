package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/aretw0/mealycache/pkg/domain"
)

// SUL drives an external process, one process per session.
// Pre starts it, Step exchanges a line, Post closes stdin and waits for exit.
type SUL struct {
	cfg Config

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr stderrBuffer
}

// stderrBuffer collects driver stderr. os/exec writes to it from its own goroutine
// until Wait returns, while Step reads it on error paths.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}

func (b *stderrBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// New creates a process-backed SUL.
func New(cfg Config) (*SUL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SUL{cfg: cfg}, nil
}

// Pre starts a fresh driver process, stopping any previous one.
func (s *SUL) Pre(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = cmd.Environ()
	for k, v := range s.cfg.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	s.stderr.Reset()
	cmd.Stderr = &s.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("process stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("process stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.cfg.Command, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	return nil
}

type line struct {
	text string
	err  error
}

// Step writes input and waits for one line of output or ctx cancellation.
// A cancelled step kills the process; the next Pre starts a new one.
func (s *SUL) Step(ctx context.Context, input domain.Symbol) (domain.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return "", errors.New("process: step before pre")
	}
	if _, err := io.WriteString(s.stdin, string(input)+"\n"); err != nil {
		return "", fmt.Errorf("process write: %w (stderr: %s)", err, s.stderr.String())
	}

	ch := make(chan line, 1)
	reader := s.stdout
	go func() {
		text, err := reader.ReadString('\n')
		ch <- line{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		s.stopLocked()
		return "", ctx.Err()
	case l := <-ch:
		if l.err != nil && l.text == "" {
			return "", fmt.Errorf("process read: %w (stderr: %s)", l.err, s.stderr.String())
		}
		return domain.Symbol(strings.TrimSpace(l.text)), nil
	}
}

// Post ends the session.
func (s *SUL) Post(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	_ = s.stdin.Close()
	err := s.cmd.Wait()
	s.cmd = nil
	if err != nil {
		return fmt.Errorf("process exited: %w (stderr: %s)", err, s.stderr.String())
	}
	return nil
}

// stopLocked kills a running process.
func (s *SUL) stopLocked() {
	if s.cmd == nil {
		return
	}
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	s.cmd = nil
}
