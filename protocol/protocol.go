// Package protocol implements the framed serial protocol spoken between the
// TennisButler host tools and the encoder interface MCU.
//
// The framing follows Klipper's MCU protocol: each message is
// <length><sequence><payload><crc16><sync>, integers inside the payload are
// VLQ encoded, and the sequence byte carries 0x10 in its high bits.
package protocol

// Version identifies the firmware protocol revision.
const Version = "0.1.0"

// Frame layout constants
const (
	MessageMax         = 512 // Output buffer size (holds several queued messages)
	MessageHeaderSize  = 2   // length + sequence
	MessageTrailerSize = 3   // crc16 (2 bytes) + sync
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F
)
