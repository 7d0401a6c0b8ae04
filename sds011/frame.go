package sds011

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DefaultScale converts the raw 16-bit fields to µg/m³.  The sensor reports
// tenths of µg/m³ per the datasheet.
const DefaultScale = 10

var (
	// ErrShortFrame is generated when a frame is not FrameLength bytes
	ErrShortFrame = errors.New("frame is not 10 bytes")

	// ErrBadHeader is generated when a frame does not begin AAh C0h
	ErrBadHeader = errors.New("frame does not begin with head and reply ID")

	// ErrBadTail is generated when a frame does not end with ABh
	ErrBadTail = errors.New("frame does not end with tail byte")

	// ErrChecksumMismatch is generated when the summation byte does not
	// match the frame payload.  Single corrupted frames are expected noise
	// on the UART; callers should skip the reading, not die.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrBadScale is generated when a Decoder is built with a nonpositive scale
	ErrBadScale = errors.New("scale factor must be positive")
)

// Point is one decoded sensor reading.  Concentrations are in µg/m³.
type Point struct {
	PM25     float64
	PM10     float64
	DeviceID uint16
}

// checksum computes the frame integrity byte as described in the datasheet:
// 8-bit summation, no carry, over the six data bytes.
func checksum(data []byte) byte {
	var accumulator uint16
	for _, b := range data {
		accumulator += uint16(b)
	}
	accumulator &= 0x00FF // kill off the upper byte
	return byte(accumulator)
}

// A Decoder unpacks frames with a particular scale factor.  The zero value
// is not useful; use NewDecoder or the package-level Decode for the
// datasheet scale.
type Decoder struct {
	scale float64
}

// NewDecoder returns a Decoder with the given raw-to-µg/m³ divisor
func NewDecoder(scale float64) (Decoder, error) {
	if scale <= 0 {
		return Decoder{}, ErrBadScale
	}
	return Decoder{scale: scale}, nil
}

// Decode validates a frame and unpacks it into a Point.  Validation covers
// length, head, tail, and the summation byte, in that order; the first
// failure wins.  Decode has no side effects and no clock, timestamps are the
// caller's problem.
func (d Decoder) Decode(frame []byte) (Point, error) {
	var p Point
	if len(frame) != FrameLength {
		return p, ErrShortFrame
	}
	if frame[0] != frameHead || frame[1] != replyID {
		return p, ErrBadHeader
	}
	if frame[FrameLength-1] != frameTail {
		return p, ErrBadTail
	}
	if frame[8] != checksum(frame[2:8]) {
		return p, ErrChecksumMismatch
	}
	p.PM25 = float64(binary.LittleEndian.Uint16(frame[2:4])) / d.scale
	p.PM10 = float64(binary.LittleEndian.Uint16(frame[4:6])) / d.scale
	p.DeviceID = binary.LittleEndian.Uint16(frame[6:8])
	return p, nil
}

// Decode unpacks a frame at the datasheet scale
func Decode(frame []byte) (Point, error) {
	return Decoder{scale: DefaultScale}.Decode(frame)
}
