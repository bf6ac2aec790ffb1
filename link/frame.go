// Package link implements the transports that carry fabric packets
// between devices: a point-to-point serial port with credit flow control
// and a token-passing bus. Both frame their traffic the same way:
// payload, CRC16, COBS, zero delimiter.
package link

import (
	"errors"

	"vgraph/protocol"
)

// Frame limits
const (
	FrameHeader = 3 // largest per-frame header (bus: dst src kind)
	CRCSize     = 2
	MaxFrame    = FrameHeader + 2 + protocol.MaxPacket + CRCSize
	MaxEncoded  = MaxFrame + MaxFrame/254 + 2 // COBS overhead plus delimiter

	Delimiter = 0x00
)

var (
	ErrFrameCRC      = errors.New("frame checksum mismatch")
	ErrFrameEncoding = errors.New("invalid COBS encoding")
	ErrFrameOverflow = errors.New("frame exceeds maximum size")
	ErrOutputFull    = errors.New("link output is full")
)

// CRC16 calculates the CRC16-CCITT checksum used on every link frame
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b = b ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// EncodeCOBS writes the COBS encoding of src into dst and returns its
// length. dst must hold at least len(src) + len(src)/254 + 1 bytes.
func EncodeCOBS(dst, src []byte) int {
	code, codePos, out := byte(1), 0, 1
	for _, b := range src {
		if b == 0 {
			dst[codePos] = code
			codePos, out, code = out, out+1, 1
			continue
		}
		dst[out] = b
		out++
		code++
		if code == 0xFF {
			dst[codePos] = code
			codePos, out, code = out, out+1, 1
		}
	}
	dst[codePos] = code
	return out
}

// DecodeCOBS reverses EncodeCOBS. src must not include the delimiter.
func DecodeCOBS(dst, src []byte) (int, error) {
	out := 0
	for i := 0; i < len(src); {
		code := int(src[i])
		if code == 0 || i+code > len(src) {
			return 0, ErrFrameEncoding
		}
		if out+code-1 > len(dst) {
			return 0, ErrFrameOverflow
		}
		out += copy(dst[out:], src[i+1:i+code])
		i += code
		if code < 0xFF && i < len(src) {
			if out >= len(dst) {
				return 0, ErrFrameOverflow
			}
			dst[out] = 0
			out++
		}
	}
	return out, nil
}

// EncodeFrame appends the CRC to payload, COBS-encodes the result and
// terminates it with the delimiter. It returns the bytes written to dst.
func EncodeFrame(dst, payload []byte) (int, error) {
	var raw [MaxFrame]byte
	if len(payload)+CRCSize > len(raw) {
		return 0, ErrFrameOverflow
	}
	n := copy(raw[:], payload)
	crc := CRC16(payload)
	raw[n] = byte(crc >> 8)
	raw[n+1] = byte(crc)
	n += CRCSize

	if len(dst) < n+n/254+2 {
		return 0, ErrFrameOverflow
	}
	m := EncodeCOBS(dst, raw[:n])
	dst[m] = Delimiter
	return m + 1, nil
}

// Decoder splits a byte stream into frames. Bytes are buffered until a
// delimiter; each complete frame is decoded, checked and handed to the
// callback without its CRC.
type Decoder struct {
	buf      [MaxEncoded]byte
	n        int
	overflow bool
	out      [MaxFrame]byte

	Frames int // frames accepted
	Errors int // frames discarded for encoding, size or CRC errors
}

// Feed consumes data, calling fn for every valid frame payload. The
// payload aliases decoder storage and is valid only during the call.
func (d *Decoder) Feed(data []byte, fn func(payload []byte)) {
	for _, b := range data {
		if b != Delimiter {
			if d.n == len(d.buf) {
				d.overflow = true
				continue
			}
			d.buf[d.n] = b
			d.n++
			continue
		}
		if d.n == 0 && !d.overflow {
			continue // idle delimiters
		}
		if payload, err := d.frame(); err != nil {
			d.Errors++
		} else {
			d.Frames++
			fn(payload)
		}
		d.n = 0
		d.overflow = false
	}
}

func (d *Decoder) frame() ([]byte, error) {
	if d.overflow {
		return nil, ErrFrameOverflow
	}
	n, err := DecodeCOBS(d.out[:], d.buf[:d.n])
	if err != nil {
		return nil, err
	}
	if n < CRCSize {
		return nil, ErrFrameEncoding
	}
	body := d.out[:n-CRCSize]
	if CRC16(body) != uint16(d.out[n-2])<<8|uint16(d.out[n-1]) {
		return nil, ErrFrameCRC
	}
	return body, nil
}

// Reset discards any partial frame
func (d *Decoder) Reset() {
	d.n = 0
	d.overflow = false
}
