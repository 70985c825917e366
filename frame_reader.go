package kcore

import "encoding/binary"

// frame is one complete, length-prefixed response read off a connection:
// the correlation id plus the bytes of the body that follow it (§6's wire
// format: length:int32 | correlationId:int32 | body).
type frame struct {
	CorrelationID int32
	Payload       []byte
}

// FrameReader splits the contiguous byte stream a BrokerConnection receives
// into complete response frames (§4.1, §2 component 3). It holds the tail
// of any partial frame between calls to Feed.
type FrameReader struct {
	buffer []byte
}

func newFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed appends newly-read bytes to the internal buffer and returns every
// complete frame now available, leaving any partial frame buffered for the
// next call.
func (r *FrameReader) Feed(data []byte) []frame {
	r.buffer = append(r.buffer, data...)

	var frames []frame
	for {
		if len(r.buffer) < 4 {
			break
		}
		size := int(binary.BigEndian.Uint32(r.buffer[:4]))
		if size < 4 {
			// A frame must contain at least the correlation id. A broker
			// that sends less is speaking a protocol this core can't
			// parse; drop the buffer rather than slicing past the end of
			// it. No frame is returned for the dropped bytes, so their
			// requests end at their own timeouts, and later bytes are
			// parsed as the start of a new frame.
			r.buffer = nil
			break
		}
		if len(r.buffer) < 4+size {
			break
		}

		body := r.buffer[4 : 4+size]
		correlationID := int32(binary.BigEndian.Uint32(body[:4]))
		payload := body[4:]

		frames = append(frames, frame{CorrelationID: correlationID, Payload: payload})
		r.buffer = r.buffer[4+size:]
	}
	return frames
}
