//go:build rp2040

// Firmware for an RP2040 board on a vgraph fabric. The board reaches the
// host over USB and its neighbors over an RS-485 bus:
//
//	rp2040
//	├── usb      port, USB CDC to the host
//	├── rs485    bus, PIO transmitter with UART1 receiver
//	├── sensors  module
//	│   └── accel  endpoint, ADXL345 on I2C0
//	└── led      endpoint, status LED
package main

import (
	"machine"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
	"vgraph/core"
	"vgraph/link"
	"vgraph/protocol"
)

// Board wiring
const (
	busTX   = machine.GPIO12
	busDE   = machine.GPIO13
	busBaud = 250000
	busAddr = 2
	busNext = 1 // the bus master
)

var (
	sched  *core.Scheduler
	usb    *usbLink
	port   *link.Port
	faults uint32
)

func main() {
	// Clear watchdog state left by a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	usb = newUSBLink()
	UpdateSystemTime()

	root := core.NewVertex("rp2040", core.TypeRoot, core.DefaultSlots)
	usbV := root.AddChild(core.NewVertex("usb", core.TypePort, core.DefaultSlots))
	busV := root.AddChild(core.NewVertex("rs485", core.TypeBus, core.DefaultSlots))
	sensors := root.AddChild(core.NewVertex("sensors", core.TypeModule, core.DefaultSlots))

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	ledEP := core.NewEndpoint("led", 1, core.DefaultSlots, core.AppFuncs{
		Data: func(d []byte) core.Verdict {
			if len(d) == 0 {
				return core.Reject
			}
			led.Set(d[0] != 0)
			return core.Accept
		},
	})
	root.AddChild(ledEP.Vertex())

	if a, err := newAccelSampler(machine.I2C0); err == nil {
		a.ep = core.NewEndpoint("accel", 6, core.DefaultSlots, a.App())
		sensors.AddChild(a.ep.Vertex())
		sensors.Attach(a)
	}

	port = link.NewPort(usb.out, link.PortConfig{})
	port.Attach(usbV)
	if line, err := newPIOLine(rp2pio.PIO0, 0, busTX, busDE, machine.UART1, busBaud); err == nil {
		bus := link.NewBus(line, link.BusConfig{Addr: busAddr, Next: busNext})
		bus.Attach(busV)
	}

	sched = core.NewScheduler(root)
	sched.SetTimeSource(core.GetTime)
	sched.SetReporter(func(core.Report) { faults++ })

	for {
		step()
		time.Sleep(10 * time.Microsecond)
	}
}

// step feeds host bytes to the port and runs one tick when the clock
// advanced
func step() {
	defer func() {
		if r := recover(); r != nil {
			faults++
			usb.out.Reset()
		}
	}()
	ticked := UpdateSystemTime()
	if in := usb.read(); len(in) > 0 {
		port.Receive(protocol.NewSliceInputBuffer(in), core.GetTime())
	}
	if ticked {
		sched.Tick()
		usb.flush()
	}
}
