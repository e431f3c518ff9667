// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
)

type FreeSpaceType int

const (
	AsPercent FreeSpaceType = iota
	AsBytes
)

// FreeSpace is a minimum-free-space threshold for the storage volume,
// expressed either as a percentage ("5") or a size ("10GiB").
type FreeSpace struct {
	Type    FreeSpaceType
	Bytes   uint64
	Percent float32
	Raw     string
}

// DiskUsage is a snapshot of a volume's capacity.
type DiskUsage struct {
	Total uint64
	Free  uint64
}

func (u DiskUsage) FreePercent() float32 {
	if u.Total == 0 {
		return 0
	}
	return float32(float64(u.Free) / float64(u.Total) * 100)
}

// IsLow reports whether usage is below the threshold, with a description
// suitable for logs and readiness output.
func (s FreeSpace) IsLow(u DiskUsage) (bool, string) {
	switch s.Type {
	case AsPercent:
		return u.FreePercent() < s.Percent, fmt.Sprintf("disk free %.2f%%, threshold %.2f%%", u.FreePercent(), s.Percent)
	case AsBytes:
		return u.Free < s.Bytes, fmt.Sprintf("disk free %s, threshold %s", humanize.IBytes(u.Free), humanize.IBytes(s.Bytes))
	}
	return false, ""
}

// Fits reports whether an incoming upload of size bytes would still leave
// the threshold satisfied.
func (s FreeSpace) Fits(u DiskUsage, size uint64) bool {
	if size > u.Free {
		return false
	}
	after := DiskUsage{Total: u.Total, Free: u.Free - size}
	low, _ := s.IsLow(after)
	return !low
}

func (s FreeSpace) String() string {
	switch s.Type {
	case AsPercent:
		return fmt.Sprintf("%.2f%%", s.Percent)
	default:
		return s.Raw
	}
}

func ParseMinFreeSpace(s string) (*FreeSpace, error) {
	if percent, err := strconv.ParseFloat(s, 32); err == nil {
		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("invalid percent value: %s", s)
		}
		return &FreeSpace{
			Type:    AsPercent,
			Percent: float32(percent),
			Raw:     s,
		}, nil
	}

	if bytes, err := humanize.ParseBytes(s); err == nil {
		if bytes <= 100 {
			return nil, fmt.Errorf("invalid byte value: %s", s)
		}
		return &FreeSpace{
			Type:  AsBytes,
			Bytes: bytes,
			Raw:   s,
		}, nil
	}

	return nil, errors.New("invalid min free space format")
}
