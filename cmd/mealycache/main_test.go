package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const machine = `
initial: s0
states:
  s0:
    A: {output: x, next: s1}
  s1:
    A: {output: y, next: s0}
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.yaml"), []byte(machine), 0o644))
	cfg := `
alphabet: [A]
log_level: error
store:
  backend: sqlite
  options:
    path: ` + filepath.Join(dir, "obs.db") + `
sul:
  kind: simulated
  options:
    machine: m.yaml
`
	path := filepath.Join(dir, "mealycache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Contains(t, run(t, "version"), "mealycache version")
}

func TestProbeThenStore(t *testing.T) {
	cfgPath := writeConfig(t)

	out := run(t, "probe", "--config", cfgPath, "A A A", "A | A")
	assert.Equal(t, "ε | A A A -> x y x\nA | A -> y\n", out)

	out = run(t, "store", "lookup", "--config", cfgPath, "A A")
	assert.Equal(t, "A A -> x y (count 1, synthetic false)\n", out)

	out = run(t, "store", "list", "--config", cfgPath, "A A")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3, "header plus A A and A A A")

	out = run(t, "store", "prune", "--config", cfgPath, "A", "z")
	assert.Equal(t, "pruned 3 records\n", out)
}
