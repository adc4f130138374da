package rtmp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"testing"

	"github.com/go-test/deep"
)

// chunkWriter builds raw chunk streams for the tests.
type chunkWriter struct {
	bytes.Buffer
}

func (w *chunkWriter) basic(format uint8, csid uint32) {
	switch {
	case csid >= 64+256:
		w.WriteByte(format<<6 | 1)
		id := csid - 64
		w.WriteByte(byte(id))
		w.WriteByte(byte(id >> 8))
	case csid >= 64:
		w.WriteByte(format << 6)
		w.WriteByte(byte(csid - 64))
	default:
		w.WriteByte(format<<6 | byte(csid))
	}
}

func (w *chunkWriter) uint24(v uint32) {
	w.Write([]byte{byte(v >> 16), byte(v >> 8), byte(v)})
}

func (w *chunkWriter) type0(csid, ts, length uint32, typeID uint8, streamID uint32) {
	w.basic(0, csid)
	if ts >= extendedTimestamp {
		w.uint24(extendedTimestamp)
	} else {
		w.uint24(ts)
	}
	w.uint24(length)
	w.WriteByte(typeID)
	var sid [4]byte
	binary.LittleEndian.PutUint32(sid[:], streamID)
	w.Write(sid[:])
	if ts >= extendedTimestamp {
		var ext [4]byte
		binary.BigEndian.PutUint32(ext[:], ts)
		w.Write(ext[:])
	}
}

func (w *chunkWriter) type1(csid, delta, length uint32, typeID uint8) {
	w.basic(1, csid)
	w.uint24(delta)
	w.uint24(length)
	w.WriteByte(typeID)
}

func (w *chunkWriter) type2(csid, delta uint32) {
	w.basic(2, csid)
	w.uint24(delta)
}

func payload(n int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func TestChunkReader(t *testing.T) {
	var w chunkWriter

	// A 200 byte video message split over two 128 byte chunks.
	video := payload(200, 0x09)
	w.type0(6, 1000, 200, TypeVideo, 1)
	w.Write(video[:128])
	w.basic(3, 6)
	w.Write(video[128:])

	// Header compression on the same chunk stream.
	w.type1(6, 40, 10, TypeAudio)
	w.Write(payload(10, 1))
	w.type2(6, 40)
	w.Write(payload(10, 2))
	w.basic(3, 6)
	w.Write(payload(10, 3))

	// Bigger chunks from here on.
	w.type0(2, 0, 4, TypeSetChunkSize, 0)
	w.Write([]byte{0, 0, 0x10, 0})
	w.type0(300, 5, 300, TypeDataAMF0, 1)
	w.Write(payload(300, 4))

	// Extended timestamp.
	w.type0(70, 0x01000000, 3, TypeVideo, 1)
	w.Write(payload(3, 5))

	cr := NewChunkReader(&w)
	var got []Message
	for {
		msg, err := cr.ReadMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		got = append(got, *msg)
	}

	want := []Message{
		{ChunkStreamID: 6, Timestamp: 1000, TypeID: TypeVideo, StreamID: 1, Payload: video},
		{ChunkStreamID: 6, Timestamp: 1040, TypeID: TypeAudio, StreamID: 1, Payload: payload(10, 1)},
		{ChunkStreamID: 6, Timestamp: 1080, TypeID: TypeAudio, StreamID: 1, Payload: payload(10, 2)},
		{ChunkStreamID: 6, Timestamp: 1120, TypeID: TypeAudio, StreamID: 1, Payload: payload(10, 3)},
		{ChunkStreamID: 2, Timestamp: 0, TypeID: TypeSetChunkSize, StreamID: 0, Payload: []byte{0, 0, 0x10, 0}},
		{ChunkStreamID: 300, Timestamp: 5, TypeID: TypeDataAMF0, StreamID: 1, Payload: payload(300, 4)},
		{ChunkStreamID: 70, Timestamp: 0x01000000, TypeID: TypeVideo, StreamID: 1, Payload: payload(3, 5)},
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("unexpected messages: %v", diff)
	}
	if cr.ChunkSize() != 4096 {
		t.Errorf("ChunkSize() = %d, want 4096", cr.ChunkSize())
	}
}

func TestChunkReader_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		build func(w *chunkWriter)
	}{
		{
			name: "continuation without a header",
			build: func(w *chunkWriter) {
				w.basic(3, 5)
				w.Write(payload(10, 0))
			},
		},
		{
			name: "zero chunk size",
			build: func(w *chunkWriter) {
				w.type0(2, 0, 4, TypeSetChunkSize, 0)
				w.Write([]byte{0, 0, 0, 0})
			},
		},
		{
			name: "oversized message",
			build: func(w *chunkWriter) {
				w.type0(3, 0, MaxMessageSize+1, TypeVideo, 1)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w chunkWriter
			tt.build(&w)
			if _, err := NewChunkReader(&w).ReadMessage(); !errors.Is(err, ErrMalformedChunk) {
				t.Errorf("ReadMessage() error = %v, want ErrMalformedChunk", err)
			}
		})
	}
}

func TestChunkReader_PartialMessageLimit(t *testing.T) {
	var w chunkWriter
	w.type0(2, 0, 4, TypeSetChunkSize, 0)
	w.Write([]byte{0, 0x10, 0, 0})
	// Nine streams each start an 8MB message with a 1MB chunk.
	for csid := uint32(3); csid < 12; csid++ {
		w.type0(csid, 0, MaxMessageSize, TypeVideo, 1)
		w.Write(payload(1<<20, 0))
	}

	cr := NewChunkReader(&w)
	if msg, err := cr.ReadMessage(); err != nil || msg.TypeID != TypeSetChunkSize {
		t.Fatalf("ReadMessage() = %v, %v, want the set chunk size message", msg, err)
	}
	if _, err := cr.ReadMessage(); !errors.Is(err, ErrMalformedChunk) {
		t.Errorf("ReadMessage() error = %v, want ErrMalformedChunk", err)
	}
}

func TestChunkReader_DeclaredLengthNotAllocated(t *testing.T) {
	var w chunkWriter
	for csid := uint32(3); csid < 203; csid++ {
		w.type0(csid, 0, 0x7fffff, TypeVideo, 1)
		w.Write(payload(DefaultChunkSize, 0))
	}
	input := w.Bytes()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := NewChunkReader(bytes.NewReader(input)).ReadMessage()
	runtime.ReadMemStats(&after)

	if err != io.EOF {
		t.Errorf("ReadMessage() error = %v, want io.EOF", err)
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 16<<20 {
		t.Errorf("reading %d bytes allocated %d bytes", len(input), grew)
	}
}
