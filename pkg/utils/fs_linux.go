// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package utils

import (
	"os"

	"golang.org/x/sys/unix"
)

// Fdatasync flushes file data without forcing unrelated metadata.
func Fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

// Fallocate reserves size bytes for f so a long copy cannot fail halfway
// on a full disk. Filesystems without support return an error the caller
// may ignore.
func Fallocate(f *os.File, size int64) error {
	if size <= 0 {
		return nil
	}
	return unix.Fallocate(int(f.Fd()), 0, 0, size)
}

// FadviseDontNeed drops f's pages from the cache after a one-shot copy.
func FadviseDontNeed(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}

func GetDiskUsage(path string) (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, err
	}
	return DiskUsage{
		Total: st.Blocks * uint64(st.Bsize),
		Free:  st.Bavail * uint64(st.Bsize),
	}, nil
}

func deviceID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}
