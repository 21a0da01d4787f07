package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsfbridge/internal/compat"
	"tsfbridge/internal/logging"
	"tsfbridge/internal/script"
)

func TestScriptPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("text: x\n"), 0o600))
	}
	single := filepath.Join(t.TempDir(), "one.yaml")
	require.NoError(t, os.WriteFile(single, []byte("text: y\n"), 0o600))

	paths, err := scriptPaths([]string{single, dir})
	require.NoError(t, err)
	assert.Equal(t, []string{single, filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, paths)

	_, err = scriptPaths([]string{t.TempDir()})
	assert.ErrorContains(t, err, "no scripts")
	_, err = scriptPaths([]string{filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestCompatRows(t *testing.T) {
	table := compat.NewTable()
	id := table.Register("clipper", []compat.Rule{
		{Trigger: compat.TriggerAlways, Adjustment: compat.AdjustClipToKnownGood},
	})
	table.SetDisabled(id, true)

	rows := compatRows(table, []string{"clipper", "nobody"})
	require.NotEmpty(t, rows)
	last := rows[len(rows)-1]
	assert.Equal(t, compatRow{ID: uint16(id), Name: "clipper", Disabled: true}, last)
	for _, r := range rows[:len(rows)-1] {
		assert.NotEqual(t, "clipper", r.Name)
		assert.NotEmpty(t, r.Rules)
	}
}

func TestRuleNames(t *testing.T) {
	got := ruleNames([]compat.Rule{{Trigger: compat.TriggerCaretOnly, Adjustment: compat.AdjustFirstChar}})
	assert.Equal(t, []string{"caret/first-char"}, got)
}

func TestReplayTestdataScripts(t *testing.T) {
	paths, err := scriptPaths([]string{filepath.Join("..", "..", "internal", "script", "testdata")})
	require.NoError(t, err)
	var scripts []*script.Script
	for _, p := range paths {
		s, err := script.Load(p)
		require.NoError(t, err)
		scripts = append(scripts, s)
	}
	logger, err := logging.New(&logging.Config{Output: "discard"})
	require.NoError(t, err)
	failed := replayAll(&script.Runner{Compat: compat.NewTable()}, scripts, nil, logger)
	assert.Zero(t, failed)
}
