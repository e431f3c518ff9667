// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// minThroughputBytesPerSecond is the slowest sustained client we tolerate
// before an upload connection is considered stalled.
const minThroughputBytesPerSecond = 4000

// Listener wraps a net.Listener so each accepted connection gets a read
// deadline that grows with the bytes already received. Long resumable
// uploads keep their connection while a client that stops sending is
// dropped after IdleTimeout.
type Listener struct {
	net.Listener
	IdleTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if l.IdleTimeout <= 0 {
		return c, nil
	}
	return &Conn{Conn: c, IdleTimeout: l.IdleTimeout}, nil
}

// Conn sets a fresh read deadline before every read.
type Conn struct {
	net.Conn
	IdleTimeout time.Duration
	bytesRead   int64
}

func bytesPerTimeout(timeout time.Duration) int64 {
	n := int64(float64(minThroughputBytesPerSecond) * timeout.Seconds())
	if n <= 0 {
		return 1
	}
	return n
}

// readDeadline is IdleTimeout scaled by how many timeout-periods worth of
// minimum-throughput data have already arrived.
func (c *Conn) readDeadline(now time.Time) time.Time {
	multiplier := time.Duration(c.bytesRead/bytesPerTimeout(c.IdleTimeout) + 1)
	return now.Add(c.IdleTimeout * multiplier)
}

func (c *Conn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(c.readDeadline(time.Now())); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(b)
	c.bytesRead += int64(n)
	return n, err
}

// NewListener listens on addr. A zero timeout disables deadlines.
func NewListener(addr string, timeout time.Duration) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: listener, IdleTimeout: timeout}, nil
}

// JoinHostPort accepts either a bare host or a host:port bind address and
// returns host:port, replacing any port already present.
func JoinHostPort(host string, port int) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	portStr := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return net.JoinHostPort(host, portStr)
}
