// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package engine

// cursor is a read position over a borrowed packet buffer.
// Invariant: 0 <= off <= len(buf).
type cursor struct {
	buf []byte
	off int
}

func newCursor(b []byte) cursor {
	return cursor{buf: b}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

// advance moves the offset forward by n bytes. The offset is left unchanged
// on failure.
func (c *cursor) advance(n int) error {
	if n < 0 || n > c.remaining() {
		return ErrOutOfBounds
	}
	c.off += n
	return nil
}

// view returns the next n bytes without consuming them. The returned slice
// has length and capacity n, so fixed-offset field reads below n are in
// bounds by construction.
func (c *cursor) view(n int) ([]byte, error) {
	if n < 0 || n > c.remaining() {
		return nil, ErrOutOfBounds
	}
	return c.buf[c.off : c.off+n : c.off+n], nil
}
