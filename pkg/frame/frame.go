// Package frame implements the gateway's wire frame codec: a
// length-delimited, CRC-protected binary frame with a version byte, a
// message-type byte, a flags byte, a 16-bit sequence number and a bounded
// payload. See SPEC_FULL.md §3 "Transport frame" and §4.1.
package frame

import (
	"encoding/binary"

	"github.com/urmzd/zgw/pkg/gwerr"
)

// Version is the only supported wire version.
const Version uint8 = 1

// MaxPayload bounds payload_len; frames larger than this are rejected
// before the reassembly buffer grows to accommodate them.
const MaxPayload = 4096

// headerSize is ver(1) + msg_type(1) + flags(1) + seq(2) + payload_len(2).
const headerSize = 7

// crcSize is the trailing CRC-16/CCITT over header+payload.
const crcSize = 2

// MaxFrame bounds the reassembly buffer the Codec is allowed to hold.
const MaxFrame = headerSize + MaxPayload + crcSize

// MsgType enumerates the transport's message types (§4.1).
type MsgType uint8

const (
	MsgHello MsgType = iota + 1
	MsgHelloAck
	MsgPing
	MsgPong
	MsgCmdReq
	MsgCmdRsp
	MsgEvt
	MsgSnapshot
)

// Flags bits. None are defined by the base protocol today; reserved for
// future compression/priority bits.
type Flags uint8

// Frame is a single decoded wire frame.
type Frame struct {
	Ver        uint8
	MsgType    MsgType
	Flags      Flags
	Seq        uint16
	Payload    []byte
}

// Encode serializes f into a self-delimited byte slice: header, payload,
// CRC-CCITT over header+payload.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, gwerr.ErrInvalidArgs
	}
	buf := make([]byte, headerSize+len(f.Payload)+crcSize)
	buf[0] = Version
	buf[1] = byte(f.MsgType)
	buf[2] = byte(f.Flags)
	binary.LittleEndian.PutUint16(buf[3:5], f.Seq)
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(f.Payload)))
	copy(buf[headerSize:], f.Payload)

	crc := crcCCITT(buf[:headerSize+len(f.Payload)])
	binary.LittleEndian.PutUint16(buf[len(buf)-crcSize:], crc)
	return buf, nil
}

// Codec is a resumable frame parser: bytes arrive in arbitrary chunks via
// Feed, which returns how many bytes were consumed and, when a full valid
// frame was assembled, the decoded Frame.
//
// On a framing error (bad version, payload_len over cap, CRC mismatch) the
// codec drops the current reassembly attempt and resyncs by scanning ahead
// one byte at a time for a plausible start of frame, per §4.1's recovery
// policy. It never allocates a buffer larger than MaxFrame.
type Codec struct {
	buf []byte
}

// NewCodec returns an empty Codec ready to Feed.
func NewCodec() *Codec {
	return &Codec{buf: make([]byte, 0, MaxFrame)}
}

// Feed appends data to the internal reassembly buffer and attempts to
// decode one frame. It returns the number of bytes consumed from data
// (always len(data): bytes after a decoded frame stay buffered for the next
// call) and the decoded frame, if any, plus a framing error if the attempt at the front of the buffer was
// invalid (the codec has already resynced past it).
func (c *Codec) Feed(data []byte) (consumed int, decoded *Frame, err error) {
	c.buf = append(c.buf, data...)
	consumed = len(data)

	for {
		if len(c.buf) < headerSize {
			return consumed, nil, nil
		}

		ver := c.buf[0]
		payloadLen := int(binary.LittleEndian.Uint16(c.buf[5:7]))

		if ver != Version {
			c.resync()
			err = gwerr.ErrFormatError
			continue
		}
		if payloadLen > MaxPayload {
			c.resync()
			err = gwerr.ErrFormatError
			continue
		}

		total := headerSize + payloadLen + crcSize
		if len(c.buf) < total {
			return consumed, nil, err
		}

		frameBytes := c.buf[:total]
		wantCRC := binary.LittleEndian.Uint16(frameBytes[total-crcSize:])
		gotCRC := crcCCITT(frameBytes[:total-crcSize])
		if wantCRC != gotCRC {
			c.resync()
			err = gwerr.ErrCrcError
			continue
		}

		f := &Frame{
			Ver:     ver,
			MsgType: MsgType(frameBytes[1]),
			Flags:   Flags(frameBytes[2]),
			Seq:     binary.LittleEndian.Uint16(frameBytes[3:5]),
			Payload: append([]byte(nil), frameBytes[headerSize:headerSize+payloadLen]...),
		}
		c.buf = append([]byte(nil), c.buf[total:]...)
		return consumed, f, nil
	}
}

// resync drops one byte from the front of the buffer so the next Feed call
// re-attempts parsing at the next candidate start-of-frame.
func (c *Codec) resync() {
	if len(c.buf) > 0 {
		c.buf = c.buf[1:]
	}
}

// crcCCITT computes CRC-16/CCITT-FALSE (init 0xFFFF, poly 0x1021),
// matching the teacher's ASH-layer CRC used for the serial link.
func crcCCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
