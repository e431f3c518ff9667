// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/LeeDigitalWorks/zapdrop/pkg/utils"

	"github.com/google/uuid"
)

// tempPath is a scratch name beside final. Each call gets its own suffix
// so concurrent writers to the same final name never share a temp file.
func tempPath(final string) string {
	return final + "." + uuid.New().String()[:8] + ".tmp"
}

// moveFile renames src to dst, replacing dst. When staging lives on a
// different filesystem the bytes are copied to a temp file beside dst,
// synced and renamed into place, then src is removed.
func moveFile(src, dst string, buffers *utils.BufferPool) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	tmp := tempPath(dst)
	if err := copyFile(src, tmp, buffers); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string, buffers *utils.BufferPool) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	buf := buffers.Get()
	defer buffers.Put(buf)

	if _, err := copyChunked(out, in, buf); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := utils.Fdatasync(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyChunked copies r to w in reads of len(buf), so memory use is bounded
// by the buffer regardless of file size.
func copyChunked(w io.Writer, r io.Reader, buf []byte) (int64, error) {
	var written int64
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		switch {
		case rerr == io.EOF || rerr == io.ErrUnexpectedEOF:
			return written, nil
		case rerr != nil:
			return written, rerr
		}
	}
}
