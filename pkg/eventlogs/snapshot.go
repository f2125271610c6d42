// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteSnapshot writes v as indented JSON (4 spaces, sorted object keys) to
// path, creating parent directories.
func WriteSnapshot(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	// Encode appends a newline; keep the file ending on the closing brace.
	data := bytes.TrimRight(buf.Bytes(), "\n")
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a file written by WriteSnapshot. Numbers are
// returned as json.Number.
func ReadSnapshot(path string) (any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", filepath.Base(path), err)
	}
	return v, nil
}
