//go:build rp2040

package main

import (
	"machine"

	"vgraph/protocol"
)

// usbLink carries a port link over the USB CDC serial device
type usbLink struct {
	out      *protocol.ScratchOutput
	fifo     *protocol.FifoBuffer
	in       [64]byte
	one      [1]byte
	failures uint32
}

func newUSBLink() *usbLink {
	// machine.Serial is USB CDC on the RP2040
	machine.Serial.Configure(machine.UARTConfig{})
	return &usbLink{
		out:  protocol.NewScratchOutput(),
		fifo: protocol.NewFifoBuffer(4 * protocol.MaxPacket),
	}
}

// fill moves bytes the host has sent into the receive FIFO
func (u *usbLink) fill() {
	for u.fifo.Free() > 0 && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return
		}
		u.one[0] = b
		u.fifo.Write(u.one[:])
	}
}

// read returns the next chunk of received bytes, empty when the FIFO is
// drained
func (u *usbLink) read() []byte {
	u.fill()
	n := u.fifo.Read(u.in[:])
	return u.in[:n]
}

// flush writes out the frames the port emitted this tick. A host that
// stopped reading loses them; the port link notices the silence and
// reopens later.
func (u *usbLink) flush() {
	data := u.out.Result()
	defer u.out.Reset()
	for len(data) > 0 {
		n, err := machine.Serial.Write(data)
		if err != nil || n == 0 {
			u.failures++
			return
		}
		data = data[n:]
	}
}
