// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	res, err := decodeQuery([]byte(`{
		"results": [
			{"gid": 1, "EndingHash": {"__type": "Bytes", "base64": "X"}, "createdAt": "2014-03-01T10:00:00.000Z"},
			{"gid": 2.5, "EventLog": {"url": "https://files.example/a&b"}, "flags": [true, false, null]}
		]
	}`))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", SnapshotFile)
	require.NoError(t, WriteSnapshot(path, res.Raw))

	back, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, res.Raw, back)
}

func TestSnapshot_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), SnapshotFile)
	require.NoError(t, WriteSnapshot(path, map[string]any{"b": 1, "a": []any{"x"}}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"a\": [\n        \"x\"\n    ],\n    \"b\": 1\n}", string(b))
}

func TestReadSnapshot_Errors(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := writeFile(t, t.TempDir(), "bad.json", "{not json")
	_, err = ReadSnapshot(bad)
	assert.ErrorContains(t, err, "bad.json")
}
