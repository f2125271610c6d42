// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// HashedExtensions are the file suffixes considered by HashDirectory.
var HashedExtensions = []string{".txt", ".mdl"}

// HashDirectory walks root and hashes every .txt and .mdl file.
//
// Directories below root whose name starts with a dot are skipped, and so
// are subdirectories that cannot be listed. The result lists files in
// lexical walk order.
func HashDirectory(ctx context.Context, root string) (HashIndex, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := requireDir(root); err != nil {
		return nil, err
	}

	var index HashIndex
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Subdirectories that cannot be read are left out of the index.
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if path != root && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !hasHashedExtension(d.Name()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		sum, err := HashFile(path)
		if err != nil {
			return err
		}
		index = append(index, HashRecord{Name: d.Name(), Hash: sum})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

// HashFile returns the base64 SHA-1 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the base64 SHA-1 digest of b.
func HashBytes(b []byte) string {
	sum := sha1.Sum(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func requireDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &InvalidPathError{Path: path, Reason: "does not exist"}
		}
		return err
	}
	if !fi.IsDir() {
		return &InvalidPathError{Path: path, Reason: "is not a directory"}
	}
	return nil
}

func requireFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &InvalidPathError{Path: path, Reason: "does not exist"}
		}
		return err
	}
	if !fi.Mode().IsRegular() {
		return &InvalidPathError{Path: path, Reason: "is not a file"}
	}
	return nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func hasHashedExtension(name string) bool {
	for _, ext := range HashedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
