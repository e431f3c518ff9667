// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package placement decides where a finished upload lands in the storage
// root: name sanitization, target directory resolution and duplicate-name
// handling.
package placement

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideRoot = errors.New("path escapes storage root")
	ErrInvalidName = errors.New("invalid file name")
	ErrDuplicate   = errors.New("file already exists")
	ErrReserved    = errors.New("path is reserved")
)

// maxNumberedAttempts bounds the search for a free name(n).ext slot.
const maxNumberedAttempts = 10000

// Policy is what to do when the final name is already taken.
type Policy string

const (
	PolicyPrevent   Policy = "prevent"
	PolicyNumber    Policy = "number"
	PolicyOverwrite Policy = "overwrite"
)

// ParsePolicy maps the client's onDuplicateFiles value to a Policy.
// Anything unrecognised, including the empty string, overwrites.
func ParsePolicy(s string) Policy {
	switch Policy(s) {
	case PolicyPrevent, PolicyNumber:
		return Policy(s)
	default:
		return PolicyOverwrite
	}
}

func isSafe(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '.' || r == '_' || r == '-'
}

// Sanitize replaces every character outside [A-Za-z0-9._-] with '_'.
// Multi-byte characters become a single '_'.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ValidName rejects sanitized names that cannot be used as a single path element.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Within reports whether p is root or lies beneath it. Both must be clean.
func Within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// TargetDir turns the client-declared relative path into an absolute
// directory under root without touching the filesystem. Every ".." is
// stripped and leading separators are dropped, so the result can never
// leave root.
func TargetDir(root, rel string) (string, error) {
	root = filepath.Clean(root)

	for strings.Contains(rel, "..") {
		rel = strings.ReplaceAll(rel, "..", "")
	}
	rel = strings.TrimLeft(rel, `/\`)

	dir := filepath.Join(root, filepath.FromSlash(rel))
	if !Within(root, dir) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return dir, nil
}

// ResolveTargetDir is TargetDir followed by creating the directory. A
// result inside any of the reserved directories is refused before anything
// is created.
func ResolveTargetDir(root, rel string, reserved ...string) (string, error) {
	dir, err := TargetDir(root, rel)
	if err != nil {
		return "", err
	}
	for _, r := range reserved {
		if Within(filepath.Clean(r), dir) {
			return "", fmt.Errorf("%w: %q", ErrReserved, rel)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	return dir, nil
}

func splitExt(name string) (base, ext string) {
	ext = filepath.Ext(name)
	base = strings.TrimSuffix(name, ext)
	if base == "" {
		// Dotfiles like ".env" have no extension to preserve.
		return name, ""
	}
	return base, ext
}

// numbered returns base(n).ext for n >= 1 and name itself for n == 0.
func numbered(name string, n int) string {
	if n == 0 {
		return name
	}
	base, ext := splitExt(name)
	return fmt.Sprintf("%s(%d)%s", base, n, ext)
}

func exists(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ResolveDuplicate returns the name to use in dir under policy without
// claiming it. For PolicyNumber it is the lowest free slot among name,
// base(1).ext, base(2).ext and so on.
func ResolveDuplicate(dir, name string, policy Policy) (string, error) {
	if policy != PolicyNumber {
		return name, nil
	}
	for n := 0; n < maxNumberedAttempts; n++ {
		candidate := numbered(name, n)
		taken, err := exists(filepath.Join(dir, candidate))
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxNumberedAttempts)
}
