// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import "errors"

// Stream errors. Streams never wrap errors returned by their sources, so
// callers can compare with errors.Is directly.
var (
	// ErrSourceIO indicates the underlying byte source failed.
	ErrSourceIO = errors.New("stream source I/O error")

	// ErrInvalidData indicates the source produced data the consumer
	// cannot decode.
	ErrInvalidData = errors.New("stream invalid data")

	// ErrBufferFull is returned by RingBuffer.Push when no slot is free.
	ErrBufferFull = errors.New("stream buffer full")

	// ErrArenaRotated is returned by combinator streams whose arena was
	// rotated after they were built.
	ErrArenaRotated = errors.New("stream arena rotated")
)
