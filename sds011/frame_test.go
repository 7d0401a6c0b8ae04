package sds011

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

// frame from the datasheet worked example: PM2.5 = 30.0, PM10 = 54.2
func goodFrame() []byte {
	return []byte{0xAA, 0xC0, 0x2C, 0x01, 0x1E, 0x02, 0x00, 0x00, 0x4D, 0xAB}
}

func TestChecksumManualExample(t *testing.T) {
	f := goodFrame()
	cs := checksum(f[2:8])
	if cs != 0x4D {
		t.Fatalf("expected checksum to be 4D, got %x", cs)
	}
}

func TestChecksumIgnoresCarry(t *testing.T) {
	cs := checksum([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	if cs != 0xFA {
		t.Fatalf("expected 8-bit summation to discard carry, got %x", cs)
	}
}

func TestDecodeManualExample(t *testing.T) {
	pt, err := Decode(goodFrame())
	if err != nil {
		t.Fatalf("decode of known-good frame failed: %s", err)
	}
	if math.Abs(pt.PM25-30.0) > 1e-9 {
		t.Errorf("expected PM2.5 of 30.0, got %f", pt.PM25)
	}
	if math.Abs(pt.PM10-54.2) > 1e-9 {
		t.Errorf("expected PM10 of 54.2, got %f", pt.PM10)
	}
	if pt.DeviceID != 0 {
		t.Errorf("expected device ID 0, got %d", pt.DeviceID)
	}
}

func TestDecodeScaleDividesRawValueExactly(t *testing.T) {
	dec, err := NewDecoder(10)
	if err != nil {
		t.Fatal(err)
	}
	f := goodFrame()
	pt, err := dec.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	// raw little endian values straight off the frame
	raw25 := float64(uint16(f[2]) | uint16(f[3])<<8)
	raw10 := float64(uint16(f[4]) | uint16(f[5])<<8)
	if pt.PM25 != raw25/10 || pt.PM10 != raw10/10 {
		t.Errorf("decoded values %f/%f do not equal raw/scale %f/%f",
			pt.PM25, pt.PM10, raw25/10, raw10/10)
	}
}

func TestDecodeCorruptedChecksumYieldsNoPoint(t *testing.T) {
	f := goodFrame()
	f[8]++
	_, err := Decode(f)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestDecodeEveryPayloadByteCoveredByChecksum(t *testing.T) {
	for i := 2; i < 8; i++ {
		f := goodFrame()
		f[i] ^= 0x01
		_, err := Decode(f)
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("corrupting byte %d not caught by checksum, got %v", i, err)
		}
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	short := goodFrame()[:9]
	if _, err := Decode(short); !errors.Is(err, ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
	badHead := goodFrame()
	badHead[0] = 0xAB
	if _, err := Decode(badHead); !errors.Is(err, ErrBadHeader) {
		t.Errorf("expected ErrBadHeader, got %v", err)
	}
	badTail := goodFrame()
	badTail[9] = 0x00
	if _, err := Decode(badTail); !errors.Is(err, ErrBadTail) {
		t.Errorf("expected ErrBadTail, got %v", err)
	}
}

func TestDecodeIsIdempotent(t *testing.T) {
	f := goodFrame()
	a, err := Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("two decodes of the same frame differ: %+v vs %+v", a, b)
	}
}

func TestNewDecoderRejectsNonpositiveScale(t *testing.T) {
	for _, scale := range []float64{0, -1} {
		if _, err := NewDecoder(scale); !errors.Is(err, ErrBadScale) {
			t.Errorf("expected ErrBadScale for scale %f, got %v", scale, err)
		}
	}
}
