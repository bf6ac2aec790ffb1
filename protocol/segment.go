package protocol

// Mode selects how an endpoint treats a DEST segment
type Mode byte

const (
	ModeAckless       Mode = 0x00 // Write, no acknowledgement
	ModeAcked         Mode = 0x01 // Write, acknowledge with AckID
	ModeQuery         Mode = 0x02 // Request the data cell
	ModeQueryResponse Mode = 0x03 // Data cell sent in reply to a query
	ModeAck           Mode = 0x04 // Acknowledgement for AckID
)

// Segment header sizes
const (
	SegmentHeader = 3 // size(2) + mode(1)
	AckIDSize     = 2
)

func (m Mode) hasAckID() bool { return m == ModeAcked || m == ModeAck }

func (m Mode) String() string {
	switch m {
	case ModeAckless:
		return "ackless"
	case ModeAcked:
		return "acked"
	case ModeQuery:
		return "query"
	case ModeQueryResponse:
		return "query-response"
	case ModeAck:
		return "ack"
	}
	return "mode(" + hex2(byte(m)) + ")"
}

// Segment is the decoded body following a DEST opcode.
// Data aliases the packet it was parsed from.
type Segment struct {
	Mode  Mode
	AckID uint16
	Data  []byte
}

// Len returns the encoded length of s
func (s Segment) Len() int {
	n := SegmentHeader + len(s.Data)
	if s.Mode.hasAckID() {
		n += AckIDSize
	}
	return n
}

// Put encodes s at the start of dst and returns the bytes written
func (s Segment) Put(dst []byte) (int, error) {
	n := s.Len()
	if len(dst) < n {
		return 0, ErrTooLarge
	}
	dst[0] = byte(len(s.Data) >> 8)
	dst[1] = byte(len(s.Data))
	dst[2] = byte(s.Mode)
	pos := SegmentHeader
	if s.Mode.hasAckID() {
		dst[3] = byte(s.AckID >> 8)
		dst[4] = byte(s.AckID)
		pos += AckIDSize
	}
	copy(dst[pos:], s.Data)
	return n, nil
}

// ParseSegment decodes the segment at the start of src
func ParseSegment(src []byte) (Segment, error) {
	if len(src) < SegmentHeader {
		return Segment{}, ErrShortPacket
	}
	size := int(src[0])<<8 | int(src[1])
	s := Segment{Mode: Mode(src[2])}
	pos := SegmentHeader
	switch s.Mode {
	case ModeAckless, ModeQuery, ModeQueryResponse:
	case ModeAcked, ModeAck:
		if len(src) < pos+AckIDSize {
			return Segment{}, ErrShortPacket
		}
		s.AckID = uint16(src[pos])<<8 | uint16(src[pos+1])
		pos += AckIDSize
	default:
		return Segment{}, ErrMalformed
	}
	if len(src) < pos+size {
		return Segment{}, ErrShortPacket
	}
	s.Data = src[pos : pos+size]
	return s, nil
}

// BuildPacket writes header, a DEST opcode and seg into dst and returns
// the packet length. header must already carry its pointer marker.
func BuildPacket(dst, header []byte, seg Segment) (int, error) {
	if len(dst) < len(header)+1+seg.Len() {
		return 0, ErrTooLarge
	}
	n := copy(dst, header)
	dst[n] = byte(OpDest)
	n++
	m, err := seg.Put(dst[n:])
	if err != nil {
		return 0, err
	}
	return n + m, nil
}
