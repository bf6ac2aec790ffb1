package protocol

// Instruction is one decoded routing instruction
type Instruction struct {
	Op      Opcode
	Operand uint16
}

// Parent returns a PARENT hop
func Parent() Instruction { return Instruction{Op: OpParent} }

// Child returns a CHILD hop to child index i
func Child(i uint16) Instruction { return Instruction{Op: OpChild, Operand: i} }

// Sibling returns a SIBLING hop to sibling index i
func Sibling(i uint16) Instruction { return Instruction{Op: OpSibling, Operand: i} }

// Port returns a PORT hop with the given link address
func Port(addr uint16) Instruction { return Instruction{Op: OpPort, Operand: addr} }

// Bus returns a BUS hop to bus address addr, ingress index idx
func Bus(addr, idx uint8) Instruction {
	return Instruction{Op: OpBus, Operand: uint16(addr)<<8 | uint16(idx)}
}

// BusAddr returns the bus address half of a BUS operand
func (in Instruction) BusAddr() uint8 { return uint8(in.Operand >> 8) }

// BusIndex returns the ingress index half of a BUS operand
func (in Instruction) BusIndex() uint8 { return uint8(in.Operand) }

// Size returns the encoded length of in
func (in Instruction) Size() int { return in.Op.Size() }

// Put encodes in at the start of dst and returns the number of bytes written.
// It returns 0 if dst is too short or the opcode is unknown.
func (in Instruction) Put(dst []byte) int {
	n := in.Size()
	if n == 0 || len(dst) < n {
		return 0
	}
	dst[0] = byte(in.Op)
	if n == HopSize {
		dst[1] = byte(in.Operand >> 8)
		dst[2] = byte(in.Operand)
	}
	return n
}

// DecodeInstruction decodes the instruction at the start of src
func DecodeInstruction(src []byte) (Instruction, int, error) {
	if len(src) == 0 {
		return Instruction{}, 0, ErrShortPacket
	}
	op := Opcode(src[0])
	n := op.Size()
	switch {
	case n == 0:
		return Instruction{}, 0, ErrMalformed
	case len(src) < n:
		return Instruction{}, 0, ErrShortPacket
	case n == HopSize:
		return Instruction{Op: op, Operand: uint16(src[1])<<8 | uint16(src[2])}, n, nil
	}
	return Instruction{Op: op}, n, nil
}

func (in Instruction) String() string {
	switch in.Op {
	case OpChild, OpSibling, OpPort:
		return in.Op.String() + "(" + utoa(uint32(in.Operand)) + ")"
	case OpBus:
		return "BUS(" + utoa(uint32(in.BusAddr())) + "/" + utoa(uint32(in.BusIndex())) + ")"
	}
	return in.Op.String()
}

func utoa(n uint32) string {
	var buf [10]byte
	pos := len(buf)
	for {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return string(buf[pos:])
}
