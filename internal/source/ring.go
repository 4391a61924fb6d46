// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package source

import "fmt"

const (
	tpacketAlignment = 16
	// TPACKET3_HDRLEN plus sockaddr_ll, rounded up
	tpacketHdrLen = 52
	targetBlock   = 1 << 20
)

// ringSize picks TPACKET_V3 ring geometry for a buffer of bufferMB
// megabytes and frames of snapLen bytes. The kernel requires the block size
// to be a multiple of both the page size and the frame size.
func ringSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferMB <= 0 || snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: buffer %d MB, snaplen %d", ErrInvalidRing, bufferMB, snapLen)
	}
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return 0, 0, 0, fmt.Errorf("%w: page size %d", ErrInvalidRing, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	if frameSize <= pageSize {
		// powers of two up to the page size divide it evenly
		p := tpacketAlignment
		for p < frameSize {
			p <<= 1
		}
		frameSize = p
	} else {
		frameSize = alignUp(frameSize, pageSize)
	}

	blockSize = alignUp(targetBlock, frameSize)
	if blockSize < pageSize {
		blockSize = pageSize
	}
	numBlocks = bufferMB * (1 << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}
