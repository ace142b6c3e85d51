// Package wire is the binary framing used between simulation processes in
// cluster mode. Halo rows, reduction contributions and gathered bands all
// travel as one fixed-header frame per message.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	Magic          uint32 = 0xE3BE4001
	Version        uint16 = 1
	FixedHeaderLen        = 20
)

// Frame types.
const (
	TypeLinkHello uint16 = iota + 1 // neighbor data link handshake
	TypeHaloRow                     // boundary row, float32 payload
	TypeReduceMax                   // residual contribution / combined result
	TypeReduceSum                   // suppressed-source count contribution / result
	TypeBarrier                     // empty payload
	TypeGatherBand                  // owned band, float32 payload
	TypeAbort                       // fatal error broadcast, utf-8 payload
	TypeStart                       // driver -> worker run assignment, json payload
	TypeResult                      // rank 0 -> driver run outcome, json payload
)

// Frame flags.
const (
	FlagResponse uint16 = 0x01
	FlagError    uint16 = 0x02
)

var (
	ErrShortHeader     = errors.New("wire: short fixed header")
	ErrBadMagic        = errors.New("wire: bad magic")
	ErrBadVersion      = errors.New("wire: unsupported version")
	ErrPayloadTooLarge = errors.New("wire: payload too large")
	ErrOddRowPayload   = errors.New("wire: row payload not a multiple of 4 bytes")
)

// Header is the fixed wire header. Step carries the sub-step counter for halo
// and reduction frames so a desynchronised peer is detectable.
type Header struct {
	Magic      uint32
	Version    uint16
	Type       uint16
	Rank       uint16
	Flags      uint16
	Step       uint32
	PayloadLen uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains decode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 16 * 1024 * 1024}
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Type)
	binary.BigEndian.PutUint16(buf[8:10], h.Rank)
	binary.BigEndian.PutUint16(buf[10:12], h.Flags)
	binary.BigEndian.PutUint32(buf[12:16], h.Step)
	binary.BigEndian.PutUint32(buf[16:20], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != FixedHeaderLen {
		return Header{}, fmt.Errorf("wire: invalid fixed header length: %d", len(b))
	}
	h := Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Type:       binary.BigEndian.Uint16(b[6:8]),
		Rank:       binary.BigEndian.Uint16(b[8:10]),
		Flags:      binary.BigEndian.Uint16(b[10:12]),
		Step:       binary.BigEndian.Uint32(b[12:16]),
		PayloadLen: binary.BigEndian.Uint32(b[16:20]),
	}
	if h.Magic != Magic {
		return Header{}, ErrBadMagic
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return h, nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.PayloadLen = uint32(len(f.Payload))
	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// EncodeRow packs a float32 row big-endian.
func EncodeRow(row []float32) []byte {
	buf := make([]byte, 4*len(row))
	for i, v := range row {
		binary.BigEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeRow unpacks a row payload into dst, which must match its length.
func DecodeRow(payload []byte, dst []float32) error {
	if len(payload)%4 != 0 {
		return ErrOddRowPayload
	}
	if len(payload)/4 != len(dst) {
		return fmt.Errorf("wire: row length %d, want %d", len(payload)/4, len(dst))
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.BigEndian.Uint32(payload[4*i:]))
	}
	return nil
}

// EncodeFloat packs a single reduction contribution.
func EncodeFloat(v float32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

func DecodeFloat(payload []byte) (float32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("wire: float payload length %d", len(payload))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(payload)), nil
}

// EncodeInt packs a signed count contribution.
func EncodeInt(v int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(v)))
	return buf
}

func DecodeInt(payload []byte) (int, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("wire: int payload length %d", len(payload))
	}
	return int(int64(binary.BigEndian.Uint64(payload))), nil
}
