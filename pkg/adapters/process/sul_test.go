package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoDriver(t *testing.T) Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("driver fixture needs a POSIX shell")
	}
	return Config{
		Name:        "echo",
		Command:     "sh",
		Args:        []string{"-c", `while read l; do echo "${PREFIX}$l"; done`},
		Environment: map[string]string{"PREFIX": "out-"},
	}
}

func TestSUL_Exchange(t *testing.T) {
	s, err := New(echoDriver(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Pre(ctx))
	out, err := s.Step(ctx, "HELLO")
	require.NoError(t, err)
	assert.Equal(t, domain.Symbol("out-HELLO"), out)
	out, err = s.Step(ctx, "BYE")
	require.NoError(t, err)
	assert.Equal(t, domain.Symbol("out-BYE"), out)
	require.NoError(t, s.Post(ctx))

	// A second session gets a fresh process.
	require.NoError(t, s.Pre(ctx))
	out, err = s.Step(ctx, "AGAIN")
	require.NoError(t, err)
	assert.Equal(t, domain.Symbol("out-AGAIN"), out)
	require.NoError(t, s.Post(ctx))
}

func TestSUL_StepBeforePre(t *testing.T) {
	s, err := New(echoDriver(t))
	require.NoError(t, err)

	_, err = s.Step(context.Background(), "X")
	assert.Error(t, err)
}

func TestSUL_StepCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("driver fixture needs a POSIX shell")
	}
	s, err := New(Config{Command: "sh", Args: []string{"-c", "sleep 5"}})
	require.NoError(t, err)
	require.NoError(t, s.Pre(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Step(ctx, "X")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, s.Post(context.Background()), "a killed session has nothing left to wait for")
}

func TestSUL_CrashReportsStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("driver fixture needs a POSIX shell")
	}
	s, err := New(Config{Command: "sh", Args: []string{"-c", `read l; echo "cannot handle $l" >&2; sleep 0.2; exit 3`}})
	require.NoError(t, err)
	require.NoError(t, s.Pre(context.Background()))

	_, err = s.Step(context.Background(), "X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot handle X")
	assert.Error(t, s.Post(context.Background()))
}

func TestStderrBuffer_ConcurrentWriteAndRead(t *testing.T) {
	var b stderrBuffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 100 {
			_, _ = b.Write([]byte("noise\n"))
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			_ = b.String()
		}
	}()
	wg.Wait()
	assert.Equal(t, 100, strings.Count(b.String(), "noise"))

	b.Reset()
	assert.Empty(t, b.String())
}

func TestSUL_MissingCommand(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, err := New(Config{Command: "definitely-not-a-real-binary-xyz"})
	require.NoError(t, err)
	assert.Error(t, s.Pre(context.Background()))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: tls\ncommand: ./driver\nargs: [--port, \"4433\"]\nenv: {MODE: learn}\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "./driver", cfg.Command)
	assert.Equal(t, []string{"--port", "4433"}, cfg.Args)
	assert.Equal(t, "learn", cfg.Environment["MODE"])

	jsonPath := filepath.Join(dir, "driver.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name":"x"}`), 0o644))
	_, err = LoadConfig(jsonPath)
	assert.Error(t, err, "command is required")
}
