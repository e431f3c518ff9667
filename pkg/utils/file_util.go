// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// TestWritableFile reports whether folder is a directory we can create files in.
func TestWritableFile(folder string) error {
	info, err := os.Stat(folder)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return os.ErrInvalid
	}

	f, err := os.CreateTemp(folder, ".probe-*")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return os.ErrPermission
		}
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func ResolvePath(path string) string {
	if !strings.Contains(path, "~") {
		return path
	}

	if path == "~" {
		if usr, err := user.Current(); err == nil {
			path = usr.HomeDir
		}
	} else if strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			path = filepath.Join(usr.HomeDir, path[2:])
		}
	}

	path = os.ExpandEnv(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}

	return path
}

// EnsureDir creates dir (and parents) and returns its absolute form.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(ResolvePath(dir))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create %q: %w", abs, err)
	}
	return abs, nil
}

// SameFilesystem reports whether a and b live on the same device, which
// decides whether a rename between them can be atomic.
func SameFilesystem(a, b string) (bool, error) {
	da, err := deviceID(a)
	if err != nil {
		return false, err
	}
	db, err := deviceID(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}
