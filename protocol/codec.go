package protocol

// LocatePointer walks the instruction chain of pkt from start and returns
// the offset of the pointer marker. At most MaxHops instructions are
// crossed; only hop instructions may precede the pointer.
func LocatePointer(pkt []byte, start int) (int, error) {
	pos := start
	for hops := 0; hops <= MaxHops; hops++ {
		if pos >= len(pkt) {
			return 0, ErrMalformed
		}
		op := Opcode(pkt[pos])
		if op == OpPointer {
			return pos, nil
		}
		if !op.IsHop() {
			return 0, ErrMalformed
		}
		pos += HopSize
	}
	return 0, ErrTooManyHops
}

// Current decodes the instruction immediately after the pointer at ptr
func Current(pkt []byte, ptr int) (Instruction, error) {
	if ptr < 0 || ptr+1 >= len(pkt) || Opcode(pkt[ptr]) != OpPointer {
		return Instruction{}, ErrMalformed
	}
	in, _, err := DecodeInstruction(pkt[ptr+1:])
	return in, err
}

// Body returns the bytes following the instruction at the pointer, i.e.
// the segment after DEST or the request body after SCOPE_REQ
func Body(pkt []byte, ptr int) []byte {
	in, err := Current(pkt, ptr)
	if err != nil {
		return nil
	}
	return pkt[ptr+1+in.Size():]
}

// Consumed decodes the history chain in front of the pointer at ptr
func Consumed(pkt []byte, ptr int) (Route, error) {
	if ptr < 0 || ptr >= len(pkt) || Opcode(pkt[ptr]) != OpPointer {
		return Route{}, ErrMalformed
	}
	return DecodeChain(pkt[:ptr])
}

// ReverseRoute writes a header retracing the consumed chain of pkt into out:
// a pointer marker followed by the consumed hops in reverse order, so the
// reply executes the most recent mirror first. The result has the same
// length as pkt[:ptr+1]. It returns the number of bytes written.
func ReverseRoute(pkt []byte, ptr int, out []byte) (int, error) {
	chain, err := Consumed(pkt, ptr)
	if err != nil {
		return 0, err
	}
	rev := chain.Reverse()
	n := rev.Encode(out)
	if n == 0 {
		return 0, ErrShortPacket
	}
	return n, nil
}

// Advance consumes the hop at the pointer: mirror is written where the
// pointer was and the pointer moves behind it. mirror must be a hop.
// It returns the new pointer offset.
func Advance(pkt []byte, ptr int, mirror Instruction) (int, error) {
	in, err := Current(pkt, ptr)
	if err != nil {
		return 0, err
	}
	if !in.Op.IsHop() || !mirror.Op.IsHop() {
		return 0, ErrMalformed
	}
	if mirror.Put(pkt[ptr:]) != HopSize {
		return 0, ErrShortPacket
	}
	pkt[ptr+HopSize] = byte(OpPointer)
	return ptr + HopSize, nil
}
