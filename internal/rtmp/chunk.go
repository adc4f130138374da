package rtmp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Message type IDs.
const (
	TypeSetChunkSize     = 1
	TypeAbort            = 2
	TypeAck              = 3
	TypeUserControl      = 4
	TypeWindowAckSize    = 5
	TypeSetPeerBandwidth = 6
	TypeAudio            = 8
	TypeVideo            = 9
	TypeDataAMF3         = 15
	TypeCommandAMF3      = 17
	TypeDataAMF0         = 18
	TypeCommandAMF0      = 20
	TypeAggregate        = 22
)

const (
	DefaultChunkSize = 128
	// Largest chunk size a peer may ask for (the field is 31 bits).
	maxChunkSize = 0x7fffffff
	// Messages above this are treated as a protocol violation rather than
	// buffered. It also caps the bytes held across all partially received
	// messages of one connection.
	MaxMessageSize = 8 << 20

	extendedTimestamp = 0xffffff
)

var ErrMalformedChunk = errors.New("malformed rtmp chunk")

// Message is a complete message reassembled from one chunk stream.
type Message struct {
	ChunkStreamID uint32
	Timestamp     uint32
	TypeID        uint8
	StreamID      uint32
	Payload       []byte

	// Set for AMF0 command messages.
	Command *Command
}

// chunkStream holds the header state chunks of types 1-3 inherit.
type chunkStream struct {
	timestamp uint32
	delta     uint32
	length    uint32
	typeID    uint8
	streamID  uint32
	extended  bool

	// Partially received message.
	buf     []byte
	partial bool
}

// ChunkReader reassembles messages from the chunk streams of one connection. It
// handles Set Chunk Size itself; the message is still returned to the caller.
type ChunkReader struct {
	r         io.Reader
	chunkSize uint32
	streams   map[uint32]*chunkStream
	scratch   [11]byte

	// Payload bytes held by partial messages.
	buffered int
}

func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{
		r:         r,
		chunkSize: DefaultChunkSize,
		streams:   make(map[uint32]*chunkStream),
	}
}

// ChunkSize returns the current incoming chunk size.
func (cr *ChunkReader) ChunkSize() uint32 { return cr.chunkSize }

// ReadMessage reads chunks until one message is complete.
func (cr *ChunkReader) ReadMessage() (*Message, error) {
	for {
		msg, err := cr.readChunk()
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}

		if msg.TypeID == TypeSetChunkSize {
			if err := cr.setChunkSize(msg.Payload); err != nil {
				return nil, err
			}
		}
		return msg, nil
	}
}

func (cr *ChunkReader) setChunkSize(payload []byte) error {
	if len(payload) < 4 {
		return fmt.Errorf("%w: short set chunk size payload", ErrMalformedChunk)
	}
	size := binary.BigEndian.Uint32(payload) & maxChunkSize
	if size == 0 {
		return fmt.Errorf("%w: chunk size 0", ErrMalformedChunk)
	}
	cr.chunkSize = size
	return nil
}

// readChunk consumes one chunk and returns the message it completes, if any.
func (cr *ChunkReader) readChunk() (*Message, error) {
	format, csid, err := cr.readBasicHeader()
	if err != nil {
		return nil, err
	}

	cs, ok := cr.streams[csid]
	if !ok {
		if format != 0 {
			return nil, fmt.Errorf("%w: chunk stream %d starts with type %d header", ErrMalformedChunk, csid, format)
		}
		cs = &chunkStream{}
		cr.streams[csid] = cs
	}

	if err := cr.readMessageHeader(format, cs); err != nil {
		return nil, err
	}
	if cs.length > MaxMessageSize {
		return nil, fmt.Errorf("%w: message of %d bytes", ErrMalformedChunk, cs.length)
	}

	if !cs.partial {
		cs.partial = true
		cs.buf = nil
	}

	n := cs.length - uint32(len(cs.buf))
	if n > cr.chunkSize {
		n = cr.chunkSize
	}
	if cr.buffered+int(n) > MaxMessageSize {
		return nil, fmt.Errorf("%w: more than %d bytes in partial messages", ErrMalformedChunk, MaxMessageSize)
	}

	// The declared length isn't trusted for allocation; the buffer grows with
	// what actually arrives.
	buf := bytes.NewBuffer(cs.buf)
	read, err := io.CopyN(buf, cr.r, int64(n))
	cs.buf = buf.Bytes()
	cr.buffered += int(read)
	if err != nil {
		if err == io.EOF && read > 0 {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if uint32(len(cs.buf)) < cs.length {
		return nil, nil
	}

	msg := &Message{
		ChunkStreamID: csid,
		Timestamp:     cs.timestamp,
		TypeID:        cs.typeID,
		StreamID:      cs.streamID,
		Payload:       cs.buf,
	}
	if msg.Payload == nil {
		msg.Payload = []byte{}
	}
	cr.buffered -= len(cs.buf)
	cs.buf = nil
	cs.partial = false
	return msg, nil
}

func (cr *ChunkReader) readBasicHeader() (format uint8, csid uint32, err error) {
	b := cr.scratch[:1]
	if _, err := io.ReadFull(cr.r, b); err != nil {
		return 0, 0, err
	}
	format = b[0] >> 6
	csid = uint32(b[0] & 0x3f)

	switch csid {
	case 0:
		if _, err := io.ReadFull(cr.r, cr.scratch[:1]); err != nil {
			return 0, 0, err
		}
		csid = uint32(cr.scratch[0]) + 64
	case 1:
		if _, err := io.ReadFull(cr.r, cr.scratch[:2]); err != nil {
			return 0, 0, err
		}
		csid = uint32(cr.scratch[1])*256 + uint32(cr.scratch[0]) + 64
	}
	return format, csid, nil
}

func (cr *ChunkReader) readMessageHeader(format uint8, cs *chunkStream) error {
	sizes := [4]int{11, 7, 3, 0}
	b := cr.scratch[:sizes[format]]
	if _, err := io.ReadFull(cr.r, b); err != nil {
		return err
	}

	// A type 3 chunk continuing a message only carries the payload (and the
	// extended timestamp when the header it inherits had one).
	continuation := format == 3 && cs.partial

	var ts uint32
	if format < 3 {
		ts = uint24(b[0:3])
		cs.extended = ts == extendedTimestamp
	}
	if cs.extended {
		var ext [4]byte
		if _, err := io.ReadFull(cr.r, ext[:]); err != nil {
			return err
		}
		if format < 3 {
			ts = binary.BigEndian.Uint32(ext[:])
		}
	}

	if format < 3 && cs.partial {
		return fmt.Errorf("%w: new message header in the middle of a message", ErrMalformedChunk)
	}

	switch format {
	case 0:
		cs.length = uint24(b[3:6])
		cs.typeID = b[6]
		cs.streamID = binary.LittleEndian.Uint32(b[7:11])
		cs.timestamp = ts
		cs.delta = 0
	case 1:
		cs.length = uint24(b[3:6])
		cs.typeID = b[6]
		cs.delta = ts
		cs.timestamp += ts
	case 2:
		cs.delta = ts
		cs.timestamp += ts
	case 3:
		if !continuation {
			cs.timestamp += cs.delta
		}
	}
	return nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
