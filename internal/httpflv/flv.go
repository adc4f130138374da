// Package httpflv serves live streams to players as HTTP-FLV: a long-lived HTTP
// response carrying an FLV file that never ends.
package httpflv

// FLV file header flags.
const (
	flagVideo = 0x01
	flagAudio = 0x04
)

// Header is the 9 byte FLV file header (signature, version 1, audio and video
// present, header length) followed by PreviousTagSize0.
var Header = []byte{
	'F', 'L', 'V', 0x01,
	flagAudio | flagVideo,
	0x00, 0x00, 0x00, 0x09,
	0x00, 0x00, 0x00, 0x00,
}
