// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package staging

const mib = 1 << 20

// PartCount is the number of parallel parts a client should split a file of
// the given size into.
func PartCount(size int64) int {
	switch {
	case size < 32*mib:
		return 1
	case size < 512*mib:
		return 2
	case size < 1024*mib:
		return 4
	default:
		return 6
	}
}

// PartSizes splits size into n contiguous ranges. The last part absorbs the
// remainder.
func PartSizes(size int64, n int) []int64 {
	if n < 1 {
		n = 1
	}
	sizes := make([]int64, n)
	base := size / int64(n)
	for i := range sizes {
		sizes[i] = base
	}
	sizes[n-1] += size - base*int64(n)
	return sizes
}
