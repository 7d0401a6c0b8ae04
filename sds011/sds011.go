/*
Package sds011 talks to Nova Fitness SDS011 particulate matter sensors.

The sensor ships in active reporting mode and emits one 10-byte frame per
second on its UART at 9600 8N1:

	 0     1     2      3      4      5      6     7     8     9
	[AAh] [C0h] [PM25] [PM25] [PM10] [PM10] [ID1] [ID2] [SUM] [ABh]

PM2.5 and PM10 are 16-bit little endian integers in tenths of µg/m³.  SUM is
an 8-bit summation (no carry) of bytes 2 through 7.  ID1/ID2 are the device
ID burned into the sensor at the factory.

A minimal usage looks like:

	sens := sds011.New("/dev/ttyUSB0")
	err := sens.Open()
	if err != nil {
		// ...
	}
	defer sens.Close()
	frame, err := sens.ReadFrame()
	if err != nil {
		// ...
	}
	pt, err := sds011.Decode(frame)
*/
package sds011

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// FrameLength is the size of a measurement frame in bytes
const FrameLength = 10

const (
	frameHead = 0xAA
	replyID   = 0xC0
	frameTail = 0xAB

	// maxSyncBytes is how many bytes to scan for a frame head before
	// declaring the stream garbage.  Joining mid-frame costs at most
	// FrameLength-1 bytes, anything past a few frames is not recoverable
	// by waiting longer.
	maxSyncBytes = 4 * FrameLength
)

var (
	// ErrNotOpen is generated when ReadFrame is called before Open
	ErrNotOpen = errors.New("serial port not open, call Open before ReadFrame")

	// ErrReadTimeout is generated when the sensor does not produce data
	// within the port's read timeout
	ErrReadTimeout = errors.New("read timed out, no data from sensor")

	// ErrNoSync is generated when no frame head is found within maxSyncBytes
	ErrNoSync = errors.New("could not synchronize to frame head in stream")
)

// makeSerConf makes a new serial.Config with correct parity, baud, etc, set.
func makeSerConf(addr string) *serial.Config {
	// the sensor emits one frame per second in active mode, so the timeout
	// must cover a full reporting period
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 2 * time.Second}
}

// Sensor has a serial connection to an SDS011 and can read measurement frames.
// It owns the port for the life of the process; it is not safe for concurrent
// use, which is fine since there is a single reader.
type Sensor struct {
	// Addr is the filesystem address of the serial device, e.g. /dev/ttyUSB0
	Addr string

	// Conn is the underlying byte stream.  Populated by Open for real
	// hardware, may be assigned directly for loopback use.
	Conn io.ReadWriteCloser
}

// New returns a new Sensor at the given serial device address
func New(addr string) *Sensor {
	return &Sensor{Addr: addr}
}

// Open the serial port, setting the Conn variable
func (s *Sensor) Open() error {
	conn, err := serial.OpenPort(makeSerConf(s.Addr))
	if err != nil {
		return errors.Wrapf(err, "could not open sensor port %s", s.Addr)
	}
	s.Conn = conn
	return nil
}

// Close the serial port, nil-ing the Conn variable
func (s *Sensor) Close() error {
	if s.Conn == nil {
		return nil
	}
	err := s.Conn.Close()
	if err == nil {
		s.Conn = nil
	}
	return err
}

// ReadFrame blocks until one full measurement frame is received and returns
// its bytes.  The stream may be joined mid-frame, so the reader scans for the
// two-byte head before committing to a frame.  The returned slice always has
// FrameLength bytes; its integrity is not checked here, see Decode.
func (s *Sensor) ReadFrame() ([]byte, error) {
	if s.Conn == nil {
		return nil, ErrNotOpen
	}
	var frame [FrameLength]byte
	for scanned := 0; scanned < maxSyncBytes; scanned++ {
		if err := s.readFull(frame[:1]); err != nil {
			return nil, err
		}
		if frame[0] != frameHead {
			continue
		}
		if err := s.readFull(frame[1:2]); err != nil {
			return nil, err
		}
		if frame[1] != replyID {
			// AAh inside a payload, keep scanning
			continue
		}
		if err := s.readFull(frame[2:]); err != nil {
			return nil, err
		}
		out := make([]byte, FrameLength)
		copy(out, frame[:])
		return out, nil
	}
	return nil, ErrNoSync
}

// readFull fills buf from the port.  tarm/serial signals an expired
// ReadTimeout as an empty read with a nil error, which is mapped to
// ErrReadTimeout here so callers see one failure mode.
func (s *Sensor) readFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := s.Conn.Read(buf[total:])
		total += n
		if err != nil {
			return errors.Wrap(err, "sensor read failed")
		}
		if n == 0 {
			return ErrReadTimeout
		}
	}
	return nil
}
