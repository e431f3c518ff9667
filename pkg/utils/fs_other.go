// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package utils

import (
	"errors"
	"os"
)

func Fdatasync(f *os.File) error {
	return f.Sync()
}

func Fallocate(f *os.File, size int64) error {
	return nil
}

func FadviseDontNeed(f *os.File) error {
	return nil
}

// GetDiskUsage is unsupported off Linux; callers treat the error as
// "unknown" and skip free-space enforcement.
func GetDiskUsage(path string) (DiskUsage, error) {
	return DiskUsage{}, errors.ErrUnsupported
}

func deviceID(path string) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	return 0, nil
}
