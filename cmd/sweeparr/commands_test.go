// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sweeparr/internal/strikes"
)

// runCommand executes the CLI with the given args and returns everything
// written to stdout and stderr.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	buf := new(bytes.Buffer)
	cmd := rootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeFixtures lays down an optional strike file plus a config pointing at
// it and returns both paths. extraYAML is appended verbatim after the
// general block, so it can either continue that block (two-space indent) or
// open a new top-level section.
func writeFixtures(t *testing.T, ledger, extraYAML string) (configPath, strikePath string) {
	t.Helper()

	dir := t.TempDir()
	strikePath = filepath.Join(dir, "strikes.json")
	if ledger != "" {
		require.NoError(t, os.WriteFile(strikePath, []byte(ledger), 0o644))
	}

	configPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("general:\n  strike_file_path: %s\n%s", strikePath, extraYAML)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, strikePath
}

const seededLedger = `{
  "Sonarr:1": {"count": 2, "first_seen_ts": 1700000000},
  "Radarr:5": {"count": 0, "first_seen_ts": 1700000100},
  "Sonarr:_indexer:brokentracker": {"failures": 3, "last_ts": 1700000200}
}`

func TestListCommand(t *testing.T) {
	configPath, _ := writeFixtures(t, seededLedger, "")

	out, err := runCommand(t, "list", "--config", configPath)
	require.NoError(t, err)

	assert.Contains(t, out, `"Sonarr:1"`)
	assert.Contains(t, out, `"count": 2`)
	assert.Contains(t, out, `"Sonarr:_indexer:brokentracker"`)
	assert.Contains(t, out, `"failures": 3`)
}

func TestListCommandWithoutStrikeFile(t *testing.T) {
	configPath, _ := writeFixtures(t, "", "")

	out, err := runCommand(t, "list", "--config", configPath)
	require.NoError(t, err)

	assert.Contains(t, out, "{}")
}

func TestClearCommandSingleKey(t *testing.T) {
	configPath, strikePath := writeFixtures(t, seededLedger, "")

	out, err := runCommand(t, "clear", "--config", configPath, "--key", "Sonarr:1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared Sonarr:1")

	reloaded := strikes.Load(strikePath, time.Now().Unix())
	_, ok := reloaded.Get("Sonarr:1")
	assert.False(t, ok)
	_, ok = reloaded.Get("Radarr:5")
	assert.True(t, ok)
}

func TestClearCommandMissingKey(t *testing.T) {
	configPath, strikePath := writeFixtures(t, seededLedger, "")

	out, err := runCommand(t, "clear", "--config", configPath, "--key", "Lidarr:404")
	require.NoError(t, err)
	assert.Contains(t, out, "Key not found")

	// Nothing was saved, so the file still holds all three records.
	reloaded := strikes.Load(strikePath, time.Now().Unix())
	assert.Equal(t, 3, reloaded.Len())
}

func TestClearCommandAll(t *testing.T) {
	configPath, strikePath := writeFixtures(t, seededLedger, "")

	out, err := runCommand(t, "clear", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared all strikes")

	reloaded := strikes.Load(strikePath, time.Now().Unix())
	assert.Equal(t, 0, reloaded.Len())
}

func TestStatusCommand(t *testing.T) {
	configPath, _ := writeFixtures(t, seededLedger, "  api_timeout: 300\n")

	out, err := runCommand(t, "status", "--config", configPath)
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))

	assert.EqualValues(t, 2, status["entries"])
	assert.EqualValues(t, 1, status["active_strikes"])
	assert.EqualValues(t, 1, status["indexer_entries"])
	assert.EqualValues(t, 300, status["api_timeout"])
	assert.Contains(t, status["strike_file"], "strikes.json")
	assert.NotEmpty(t, status["next_run"])
}

func TestSimulateCommandMaxAge(t *testing.T) {
	configPath, _ := writeFixtures(t, "", "rule_engine:\n  max_queue_age_hours: 0.5\n")

	itemPath := filepath.Join(t.TempDir(), "item.json")
	item := `{"id": 9, "title": "Show.S01E01.720p", "protocol": "torrent", "status": "downloading", "size": 1000, "sizeleft": 400}`
	require.NoError(t, os.WriteFile(itemPath, []byte(item), 0o644))

	out, err := runCommand(t, "simulate", itemPath, "--config", configPath)
	require.NoError(t, err)

	var verdict map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	assert.Equal(t, "max_age", verdict["reason"])
}

func TestSimulateCommandStalledStatus(t *testing.T) {
	configPath, _ := writeFixtures(t, "", "")

	itemPath := filepath.Join(t.TempDir(), "item.json")
	item := `{"id": 3, "title": "Movie.2024.1080p", "protocol": "torrent", "status": "warning", "size": 1000, "sizeleft": 900}`
	require.NoError(t, os.WriteFile(itemPath, []byte(item), 0o644))

	out, err := runCommand(t, "simulate", itemPath, "--config", configPath, "--service", "Radarr")
	require.NoError(t, err)

	var verdict map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	assert.Equal(t, "stalled", verdict["reason"])
}

func TestSimulateCommandNoRuleFires(t *testing.T) {
	configPath, _ := writeFixtures(t, "", "")

	itemPath := filepath.Join(t.TempDir(), "item.json")
	item := `{"id": 7, "title": "Album.FLAC", "protocol": "torrent", "status": "downloading", "size": 1000, "sizeleft": 400, "seeders": 12}`
	require.NoError(t, os.WriteFile(itemPath, []byte(item), 0o644))

	out, err := runCommand(t, "simulate", itemPath, "--config", configPath)
	require.NoError(t, err)

	var verdict map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	assert.Nil(t, verdict["reason"])
}

func TestSimulateCommandMissingItemFile(t *testing.T) {
	configPath, _ := writeFixtures(t, "", "")

	_, err := runCommand(t, "simulate", filepath.Join(t.TempDir(), "nope.json"), "--config", configPath)
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)

	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, "Commit:")
	assert.Contains(t, out, "Build date:")
}
