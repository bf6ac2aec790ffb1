package protocol

// Scope body sizes
const (
	ScopeRequestBody  = 2                         // epoch
	ScopeResponseBody = 2 + 1 + 2 + 2 + 2 + 1 + 1 // fixed part before the name
	MaxScopeName      = 24
)

// Scope response flags
const (
	ScopeLinkOpen uint8 = 1 << 0 // The vertex is a transport with an open link
)

// ScopeRequest is the body following SCOPE_REQ
type ScopeRequest struct {
	Epoch uint16
}

// ParseScopeRequest decodes the body following a SCOPE_REQ opcode
func ParseScopeRequest(src []byte) (ScopeRequest, error) {
	if len(src) < ScopeRequestBody {
		return ScopeRequest{}, ErrShortPacket
	}
	return ScopeRequest{Epoch: uint16(src[0])<<8 | uint16(src[1])}, nil
}

// BuildScopeRequest writes a probe for the vertex at the end of route
func BuildScopeRequest(dst []byte, route Route, epoch uint16) (int, error) {
	need := route.EncodedLen() + 1 + ScopeRequestBody
	if len(dst) < need {
		return 0, ErrTooLarge
	}
	n := route.Encode(dst)
	dst[n] = byte(OpScopeRequest)
	dst[n+1] = byte(epoch >> 8)
	dst[n+2] = byte(epoch)
	return need, nil
}

// ScopeResponse is the body following SCOPE_RES
type ScopeResponse struct {
	PrevEpoch uint16
	Type      uint8
	Index     uint16
	Siblings  uint16
	Children  uint16
	Flags     uint8
	Name      string
}

// Len returns the encoded body length of r, name truncated to MaxScopeName
func (r *ScopeResponse) Len() int {
	return ScopeResponseBody + min(len(r.Name), MaxScopeName)
}

// Put encodes the body of r at the start of dst
func (r *ScopeResponse) Put(dst []byte) (int, error) {
	n := r.Len()
	if len(dst) < n {
		return 0, ErrTooLarge
	}
	dst[0] = byte(r.PrevEpoch >> 8)
	dst[1] = byte(r.PrevEpoch)
	dst[2] = r.Type
	dst[3] = byte(r.Index >> 8)
	dst[4] = byte(r.Index)
	dst[5] = byte(r.Siblings >> 8)
	dst[6] = byte(r.Siblings)
	dst[7] = byte(r.Children >> 8)
	dst[8] = byte(r.Children)
	dst[9] = r.Flags
	dst[10] = byte(n - ScopeResponseBody)
	copy(dst[ScopeResponseBody:n], r.Name)
	return n, nil
}

// ParseScopeResponse decodes the body following a SCOPE_RES opcode
func ParseScopeResponse(src []byte) (ScopeResponse, error) {
	if len(src) < ScopeResponseBody {
		return ScopeResponse{}, ErrShortPacket
	}
	nameLen := int(src[10])
	if len(src) < ScopeResponseBody+nameLen {
		return ScopeResponse{}, ErrShortPacket
	}
	return ScopeResponse{
		PrevEpoch: uint16(src[0])<<8 | uint16(src[1]),
		Type:      src[2],
		Index:     uint16(src[3])<<8 | uint16(src[4]),
		Siblings:  uint16(src[5])<<8 | uint16(src[6]),
		Children:  uint16(src[7])<<8 | uint16(src[8]),
		Flags:     src[9],
		Name:      string(src[ScopeResponseBody : ScopeResponseBody+nameLen]),
	}, nil
}
