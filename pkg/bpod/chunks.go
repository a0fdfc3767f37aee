package bpod

import "fmt"

// Range is the half-open interval one chunk occupies within the
// concatenated payload returned by ReadChunks.
type Range struct {
	Start, End int
}

// ReadChunks sends a request and reads a multi-part response of nChunks
// variable-length chunks. Chunk 0 is firstChunkLength bytes long; the
// length of every later chunk is carried in the trailing byte of the
// chunk before it. That byte counts the payload only, so it is adjusted
// by +1 to cover the embedded length byte, except when it comes from the
// second-to-last chunk, whose trailing byte frames the final chunk
// exactly. The device transmits the hardware description this way, and
// the adjustment must match its framing byte for byte.
//
// Returns the payload truncated to the end of the last recorded range,
// plus the range of every chunk so callers can slice the original chunk
// boundaries back out.
func (b *Bpod) ReadChunks(request any, nChunks, firstChunkLength int) ([]byte, []Range, error) {
	if nChunks < 1 || firstChunkLength < 1 {
		return nil, nil, fmt.Errorf("%w: invalid chunk layout (%d chunks, first length %d)",
			ErrProtocol, nChunks, firstChunkLength)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil, nil, ErrClosed
	}
	if err := b.writeLocked(request); err != nil {
		return nil, nil, err
	}

	var payload []byte
	offsets := make([]Range, 0, nChunks)

	length := firstChunkLength
	for i := 0; i < nChunks; i++ {
		if i > 0 {
			length = int(payload[len(payload)-1])
			if i < nChunks-1 {
				length++
			}
		}

		chunk, err := b.tr.ReadExact(length)
		if err != nil {
			return nil, nil, fmt.Errorf("reading chunk %d of %d: %w", i, nChunks, err)
		}

		offsets = append(offsets, Range{Start: len(payload), End: len(payload) + len(chunk)})
		payload = append(payload, chunk...)
	}

	return payload[:offsets[len(offsets)-1].End], offsets, nil
}
