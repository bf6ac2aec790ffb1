// Package protocol implements the vgraph wire format: routing instructions,
// route sequences, the DEST segment layout and the scope sub-protocol.
package protocol

import "errors"

// Version represents the vgraph wire format version
const Version = "0.3.0"

// Packet limits
const (
	MaxPacket = 128 // Largest packet a slot can hold
	MaxHops   = 16  // Longest instruction chain walked before giving up

	HopSize     = 3 // opcode + 2-byte operand
	PointerSize = 1
	MaxHeader   = PointerSize + MaxHops*HopSize
)

// Opcode tags one routing instruction
type Opcode byte

const (
	OpPointer       Opcode = 0x01 // Next byte is the opcode to execute now
	OpDest          Opcode = 0x02 // Packet reached its target vertex
	OpParent        Opcode = 0x10 // Move up one level
	OpChild         Opcode = 0x11 // Move down to child(operand)
	OpSibling       Opcode = 0x12 // Move across to sibling(operand)
	OpPort          Opcode = 0x13 // Hand off to a point-to-point link
	OpBus           Opcode = 0x14 // Hand off to a token bus, operand = addr<<8 | index
	OpScopeRequest  Opcode = 0x20
	OpScopeResponse Opcode = 0x21
	OpEscape        Opcode = 0x7F // Reserved
)

var (
	ErrMalformed   = errors.New("malformed routing header")
	ErrTooManyHops = errors.New("no pointer within hop limit")
	ErrShortPacket = errors.New("packet too short")
	ErrTooLarge    = errors.New("packet exceeds maximum size")
	ErrBadRoute    = errors.New("invalid route text")
)

// IsHop reports whether op moves a packet between vertices or devices
func (op Opcode) IsHop() bool {
	switch op {
	case OpParent, OpChild, OpSibling, OpPort, OpBus:
		return true
	}
	return false
}

// Size returns the encoded length of an instruction with this opcode,
// or 0 for unknown opcodes
func (op Opcode) Size() int {
	switch op {
	case OpPointer, OpDest, OpScopeRequest, OpScopeResponse, OpEscape:
		return 1
	case OpParent, OpChild, OpSibling, OpPort, OpBus:
		return HopSize
	}
	return 0
}

func (op Opcode) String() string {
	switch op {
	case OpPointer:
		return "PTR"
	case OpDest:
		return "DEST"
	case OpParent:
		return "PARENT"
	case OpChild:
		return "CHILD"
	case OpSibling:
		return "SIBLING"
	case OpPort:
		return "PORT"
	case OpBus:
		return "BUS"
	case OpScopeRequest:
		return "SCOPE_REQ"
	case OpScopeResponse:
		return "SCOPE_RES"
	case OpEscape:
		return "ESCAPE"
	}
	return "OP(" + hex2(byte(op)) + ")"
}

func hex2(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{'0', 'x', digits[b>>4], digits[b&0xF]})
}
