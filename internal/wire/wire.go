// Package wire implements the byte-packet serialization helpers shared by
// the METIS graph wire format and the executor's collective payloads: a small
// magic+version+length-prefixed-section framing, in the style of the
// teacher's SerializationHeader/crc32Checksum scheme.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

// ErrBadMagic is returned when a packet's magic number does not match.
var ErrBadMagic = errors.New("wire: bad magic number")

// ErrChecksum is returned when a packet's checksum does not match its payload.
var ErrChecksum = errors.New("wire: checksum mismatch")

// Header is the fixed 16-byte prefix of every wire packet this package
// writes: magic, format version, section count, payload length, and a
// CRC32 checksum of everything that follows the header.
type Header struct {
	Magic    uint32
	Version  uint16
	Sections uint16
	Length   uint32
	Checksum uint32
}

const HeaderSize = 4 + 2 + 2 + 4 + 4

// WriteHeader writes h to buf in little-endian form.
func WriteHeader(buf *bytes.Buffer, h Header) {
	binary.Write(buf, binary.LittleEndian, h.Magic)
	binary.Write(buf, binary.LittleEndian, h.Version)
	binary.Write(buf, binary.LittleEndian, h.Sections)
	binary.Write(buf, binary.LittleEndian, h.Length)
	binary.Write(buf, binary.LittleEndian, h.Checksum)
}

// ReadHeader reads a Header from the front of data.
func ReadHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("wire: short header: %d bytes", len(data))
	}
	r := bytes.NewReader(data[:HeaderSize])
	var h Header
	binary.Read(r, binary.LittleEndian, &h.Magic)
	binary.Read(r, binary.LittleEndian, &h.Version)
	binary.Read(r, binary.LittleEndian, &h.Sections)
	binary.Read(r, binary.LittleEndian, &h.Length)
	binary.Read(r, binary.LittleEndian, &h.Checksum)
	return h, data[HeaderSize:], nil
}

// PutUint64Vec appends a length-prefixed vector of uint64s to buf:
// an 8-byte little-endian count followed by that many 8-byte elements.
func PutUint64Vec(buf *bytes.Buffer, vec []uint64) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(vec)))
	buf.Write(lenBuf[:])
	for _, v := range vec {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
}

// PutInt32Vec appends a length-prefixed vector of int32s, matching the
// METIS xadj/adjncy/vwgt/adjwgt convention of 32-bit signed weights.
func PutInt32Vec(buf *bytes.Buffer, vec []int32) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(vec)))
	buf.Write(lenBuf[:])
	for _, v := range vec {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	}
}

// TakeUint64Vec reads a length-prefixed uint64 vector from the front of
// data and returns it along with the remaining bytes.
func TakeUint64Vec(data []byte) ([]uint64, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("wire: short uint64 vector length prefix")
	}
	n := binary.LittleEndian.Uint64(data[:8])
	data = data[8:]
	need := int(n) * 8
	if len(data) < need {
		return nil, nil, fmt.Errorf("wire: short uint64 vector body: need %d have %d", need, len(data))
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
	}
	return out, data[need:], nil
}

// TakeInt32Vec reads a length-prefixed int32 vector from the front of
// data and returns it along with the remaining bytes.
func TakeInt32Vec(data []byte) ([]int32, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("wire: short int32 vector length prefix")
	}
	n := binary.LittleEndian.Uint64(data[:8])
	data = data[8:]
	need := int(n) * 4
	if len(data) < need {
		return nil, nil, fmt.Errorf("wire: short int32 vector body: need %d have %d", need, len(data))
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
	}
	return out, data[need:], nil
}

// PutComplex128Vec appends a length-prefixed vector of complex128s to buf:
// an 8-byte little-endian count followed by that many real/imaginary
// float64 pairs, used to serialize tensor buffer contents across a
// collective's Send/Recv boundary.
func PutComplex128Vec(buf *bytes.Buffer, vec []complex128) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(vec)))
	buf.Write(lenBuf[:])
	for _, v := range vec {
		var b [16]byte
		binary.LittleEndian.PutUint64(b[0:8], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(imag(v)))
		buf.Write(b[:])
	}
}

// TakeComplex128Vec reads a length-prefixed complex128 vector from the
// front of data and returns it along with the remaining bytes.
func TakeComplex128Vec(data []byte) ([]complex128, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("wire: short complex128 vector length prefix")
	}
	n := binary.LittleEndian.Uint64(data[:8])
	data = data[8:]
	need := int(n) * 16
	if len(data) < need {
		return nil, nil, fmt.Errorf("wire: short complex128 vector body: need %d have %d", need, len(data))
	}
	out := make([]complex128, n)
	for i := range out {
		re := math.Float64frombits(binary.LittleEndian.Uint64(data[i*16 : i*16+8]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(data[i*16+8 : i*16+16]))
		out[i] = complex(re, im)
	}
	return out, data[need:], nil
}

// Checksum computes the CRC32 (IEEE polynomial) of data, matching the
// teacher's serialization package's use of a standard CRC32 rather than a
// hand-rolled polynomial table.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Frame wraps payload in a Header+payload packet with magic and checksum
// filled in.
func Frame(magic uint32, version uint16, sections uint16, payload []byte) []byte {
	h := Header{Magic: magic, Version: version, Sections: sections, Length: uint32(len(payload)), Checksum: Checksum(payload)}
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(payload))
	WriteHeader(&buf, h)
	buf.Write(payload)
	return buf.Bytes()
}

// Unframe validates and strips a Header+payload packet written by Frame.
func Unframe(data []byte, wantMagic uint32) ([]byte, error) {
	h, rest, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Magic != wantMagic {
		return nil, fmt.Errorf("%w: got %#x want %#x", ErrBadMagic, h.Magic, wantMagic)
	}
	if uint32(len(rest)) < h.Length {
		return nil, fmt.Errorf("wire: short payload: need %d have %d", h.Length, len(rest))
	}
	payload := rest[:h.Length]
	if Checksum(payload) != h.Checksum {
		return nil, ErrChecksum
	}
	return payload, nil
}
