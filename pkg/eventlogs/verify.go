// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"os"
	"path/filepath"
)

// verifySHA1 compares the digest of data with the expected base64 SHA-1.
func verifySHA1(path string, data []byte, expected string) error {
	if expected == "" {
		return nil
	}
	if sum := HashBytes(data); sum != expected {
		return &VerificationError{Path: path, Expected: expected, Actual: sum}
	}
	return nil
}

// shouldSkipLocal reports whether a record is already on disk: both files
// exist and the model still hashes to the ending hash.
// Returns (skip, reason, error).
func shouldSkipLocal(names ArtifactNames, endingHash string) (bool, string, error) {
	if endingHash == "" {
		return false, "", nil
	}
	if _, err := os.Stat(names.LogFile); err != nil {
		return false, "", nil
	}
	if _, err := os.Stat(names.ModelFile); err != nil {
		return false, "", nil
	}
	sum, err := HashFile(names.ModelFile)
	if err != nil {
		return false, "", err
	}
	if sum != endingHash {
		return false, "", nil
	}
	return true, "sha1 match", nil
}

// writeFileAtomic writes data to a .part sibling and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
