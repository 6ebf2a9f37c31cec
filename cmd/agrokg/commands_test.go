//go:build cgo

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against a throwaway database with the offline
// embedder and returns stdout.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("AGROKG_EMBEDDING_PROVIDER", "fake")
	t.Setenv("AGROKG_EMBEDDING_DIM", "32")
	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(append([]string{"--db", db}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCLIWorkflow(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "kg.db")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "12345.json"), []byte(`{
		"product_number": "12345",
		"product_name": "XR700",
		"mode_of_action_group": "A",
		"weed_control_entries": [
			{"crop": "Wheat", "weed_common_name": "Annual rye grass", "rate_per_ha": "1.5 L", "states": ["NSW"]}
		]
	}`), 0o644))
	label := filepath.Join(dir, "label.txt")
	require.NoError(t, os.WriteFile(label, []byte("DIRECTIONS FOR USE\nApply 1.5 L/ha to control annual ryegrass in wheat.\n"), 0o644))

	out, err := run(t, db, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "reference_version")

	out, err = run(t, db, "load", dir)
	require.NoError(t, err)
	var batch struct {
		Loaded int `json:"loaded"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &batch))
	assert.Equal(t, 1, batch.Loaded)

	out, err = run(t, db, "index", "12345", label)
	require.NoError(t, err)
	assert.Contains(t, out, `"chunks": 1`)

	out, err = run(t, db, "query", "structured", "--weed", "annual rye grass")
	require.NoError(t, err)
	assert.Contains(t, out, `"registration_number": "12345"`)

	out, err = run(t, db, "query", "hybrid", "--trace", "ryegrass", "in", "wheat")
	require.NoError(t, err)
	assert.Contains(t, out, `"trace"`)
	assert.Contains(t, out, "12345")

	out, err = run(t, db, "product", "12345")
	require.NoError(t, err)
	assert.Contains(t, out, "XR700")

	out, err = run(t, db, "search", "weed", "rye")
	require.NoError(t, err)
	assert.Contains(t, out, "ryegrass")

	out, err = run(t, db, "rotation", "--weed", "ryegrass", "--group", "A")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	_, err = run(t, db, "query", "structured")
	assert.Error(t, err)

	ds := filepath.Join(dir, "eval.yaml")
	require.NoError(t, os.WriteFile(ds, []byte("name: smoke\ntests:\n  - mode: structured\n    filters: {weed: ryegrass}\n    expected: [\"12345\"]\n"), 0o644))
	out, err = run(t, db, "eval", ds)
	require.NoError(t, err)
	assert.Contains(t, out, "Passed: 1")

	out, err = run(t, db, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "top_weeds")
}

func TestCLILoadReportsFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"kind": "nope"}`), 0o644))

	out, err := run(t, filepath.Join(dir, "kg.db"), "load", dir)
	assert.ErrorIs(t, err, errPartialFailure)
	assert.Contains(t, out, "bad.json")
}
