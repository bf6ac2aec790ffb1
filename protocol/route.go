package protocol

import (
	"strconv"
	"strings"
)

// Route is a fixed-capacity sequence of hop instructions.
// The zero value is an empty route.
type Route struct {
	hops [MaxHops]Instruction
	n    int
}

// NewRoute builds a route from the given hops. Non-hop instructions and
// hops beyond MaxHops are rejected.
func NewRoute(hops ...Instruction) (Route, error) {
	var r Route
	for _, in := range hops {
		if err := r.Push(in); err != nil {
			return Route{}, err
		}
	}
	return r, nil
}

// Push appends a hop to r
func (r *Route) Push(in Instruction) error {
	if !in.Op.IsHop() {
		return ErrMalformed
	}
	if r.n == MaxHops {
		return ErrTooManyHops
	}
	r.hops[r.n] = in
	r.n++
	return nil
}

// Len returns the number of hops in r
func (r Route) Len() int { return r.n }

// At returns hop i
func (r Route) At(i int) Instruction { return r.hops[i] }

// Hops returns the hops of r as a slice
func (r *Route) Hops() []Instruction { return r.hops[:r.n] }

// Reverse returns the hops of r in the opposite order. The hops of a
// consumed header are already mirrors, so the result retraces r backwards.
func (r Route) Reverse() Route {
	var out Route
	for i := r.n - 1; i >= 0; i-- {
		out.hops[out.n] = r.hops[i]
		out.n++
	}
	return out
}

// Concat returns r followed by the hops of o
func (r Route) Concat(o Route) (Route, error) {
	for _, in := range o.Hops() {
		if err := r.Push(in); err != nil {
			return Route{}, err
		}
	}
	return r, nil
}

// EncodedLen returns the size of r encoded as a header, pointer included
func (r Route) EncodedLen() int { return PointerSize + r.n*HopSize }

// Encode writes a header for r into dst: a pointer marker followed by
// every hop, so the first hop executes next. It returns the bytes written,
// or 0 if dst is too short.
func (r Route) Encode(dst []byte) int {
	if len(dst) < r.EncodedLen() {
		return 0
	}
	dst[0] = byte(OpPointer)
	pos := PointerSize
	for _, in := range r.hops[:r.n] {
		pos += in.Put(dst[pos:])
	}
	return pos
}

// DecodeChain decodes a run of hop instructions occupying all of src
func DecodeChain(src []byte) (Route, error) {
	var r Route
	for len(src) > 0 {
		in, n, err := DecodeInstruction(src)
		if err != nil {
			return Route{}, err
		}
		if err := r.Push(in); err != nil {
			return Route{}, err
		}
		src = src[n:]
	}
	return r, nil
}

func (r Route) String() string {
	var sb strings.Builder
	for i, in := range r.hops[:r.n] {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(in.String())
	}
	return sb.String()
}

// ParseRoute parses the textual route syntax used in configuration files
// and the command line:
//
//	parent child:0 sibling:2 port:0 bus:3/1
//
// A bare "port" means port:0.
func ParseRoute(text string) (Route, error) {
	var r Route
	for _, tok := range strings.Fields(text) {
		name, arg, hasArg := strings.Cut(strings.ToLower(tok), ":")
		var in Instruction
		switch name {
		case "parent", "up":
			if hasArg {
				return Route{}, ErrBadRoute
			}
			in = Parent()
		case "child", "sibling", "port":
			var v uint64
			if hasArg {
				var err error
				if v, err = strconv.ParseUint(arg, 10, 16); err != nil {
					return Route{}, ErrBadRoute
				}
			} else if name != "port" {
				return Route{}, ErrBadRoute
			}
			switch name {
			case "child":
				in = Child(uint16(v))
			case "sibling":
				in = Sibling(uint16(v))
			default:
				in = Port(uint16(v))
			}
		case "bus":
			a, i, ok := strings.Cut(arg, "/")
			if !hasArg {
				return Route{}, ErrBadRoute
			}
			addr, err := strconv.ParseUint(a, 10, 8)
			if err != nil {
				return Route{}, ErrBadRoute
			}
			var idx uint64
			if ok {
				if idx, err = strconv.ParseUint(i, 10, 8); err != nil {
					return Route{}, ErrBadRoute
				}
			}
			in = Bus(uint8(addr), uint8(idx))
		default:
			return Route{}, ErrBadRoute
		}
		if err := r.Push(in); err != nil {
			return Route{}, err
		}
	}
	return r, nil
}

// Text renders r in the syntax accepted by ParseRoute
func (r Route) Text() string {
	var sb strings.Builder
	for i, in := range r.hops[:r.n] {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch in.Op {
		case OpParent:
			sb.WriteString("parent")
		case OpChild:
			sb.WriteString("child:" + utoa(uint32(in.Operand)))
		case OpSibling:
			sb.WriteString("sibling:" + utoa(uint32(in.Operand)))
		case OpPort:
			sb.WriteString("port:" + utoa(uint32(in.Operand)))
		case OpBus:
			sb.WriteString("bus:" + utoa(uint32(in.BusAddr())) + "/" + utoa(uint32(in.BusIndex())))
		}
	}
	return sb.String()
}
