// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"sync"
)

// BufferPool hands out fixed-size copy buffers. Concatenation reads parts
// in chunks of the configured size, so every buffer has the same length
// and can be reused across assemblies without reslicing games.
type BufferPool struct {
	size int
	pool sync.Pool
}

const minBufferSize = 4 << 10

func NewBufferPool(size int) *BufferPool {
	if size < minBufferSize {
		size = minBufferSize
	}
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size is the length of every buffer returned by Get.
func (p *BufferPool) Size() int {
	return p.size
}

func (p *BufferPool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns buf to the pool. Buffers of a foreign size are dropped.
//
// WARNING: Do not use the buffer after calling Put.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}
