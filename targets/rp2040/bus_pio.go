//go:build rp2040

package main

import (
	"machine"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// buildTxProgram assembles an 8N1 transmitter. Every bit lasts eight
// state machine cycles; the line idles high while the FIFO is empty.
func buildTxProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                   // 0: pull block
		asm.Set(rp2pio.SetDestX, 7).Encode(),             // 1: set x, 7
		asm.Set(rp2pio.SetDestPins, 0).Delay(7).Encode(), // 2: set pins, 0 [7] (start bit)
		// bitloop:
		asm.Out(rp2pio.OutDestPins, 1).Delay(6).Encode(), // 3: out pins, 1 [6]
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Encode(),         // 4: jmp x--, 3
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 5: set pins, 1 [7] (stop bit)
		// .wrap
	}
}

const txProgramOrigin = 0 // jump targets assume offset 0

// pioLine is a half-duplex RS-485 bus line. Frames leave through a PIO
// transmitter with the driver enabled; the receiver is a hardware UART.
type pioLine struct {
	sm    rp2pio.StateMachine
	de    machine.Pin
	rx    *machine.UART
	drain time.Duration // time for the last bytes to leave the shifter
}

// newPIOLine claims state machine smNum of pio for transmission on tx,
// drives de around every frame and reads from rx
func newPIOLine(pio *rp2pio.PIO, smNum uint8, tx, de machine.Pin, rx *machine.UART, baud uint32) (*pioLine, error) {
	l := &pioLine{
		sm:    pio.StateMachine(smNum),
		de:    de,
		rx:    rx,
		drain: time.Duration(20*int64(time.Second)/int64(baud)) + time.Microsecond,
	}
	l.sm.TryClaim()

	program := buildTxProgram()
	offset, err := pio.AddProgram(program, txProgramOrigin)
	if err != nil {
		return nil, err
	}
	tx.Configure(machine.PinConfig{Mode: pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(tx, 1)
	cfg.SetOutPins(tx, 1)
	// LSB first, explicit pull
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	// 8 cycles per bit, 24.8 fixed point divider
	div := uint64(machine.CPUFrequency()) * 256 / (8 * uint64(baud))
	cfg.SetClkDivIntFrac(uint16(div>>8), uint8(div))

	l.sm.Init(offset, cfg)
	l.sm.SetPindirsConsecutive(tx, 1, true)
	l.sm.SetPinsConsecutive(tx, 1, true) // idle high
	l.sm.SetEnabled(true)

	de.Configure(machine.PinConfig{Mode: machine.PinOutput})
	de.Low()
	if err := rx.Configure(machine.UARTConfig{BaudRate: baud}); err != nil {
		return nil, err
	}
	return l, nil
}

// Transmit sends frame with the bus driver enabled
func (l *pioLine) Transmit(frame []byte) error {
	l.de.High()
	for _, b := range frame {
		for l.sm.IsTxFIFOFull() {
		}
		l.sm.TxPut(uint32(b))
	}
	for !l.sm.IsTxFIFOEmpty() {
	}
	time.Sleep(l.drain)
	l.de.Low()
	return nil
}

// Drain copies received bytes into dst
func (l *pioLine) Drain(dst []byte) int {
	n := 0
	for n < len(dst) && l.rx.Buffered() > 0 {
		b, err := l.rx.ReadByte()
		if err != nil {
			break
		}
		dst[n] = b
		n++
	}
	return n
}
