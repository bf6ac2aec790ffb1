//go:build rp2040

package main

import (
	"machine"

	"tinygo.org/x/drivers/adxl345"
	"vgraph/core"
)

// accelEvery is the sampling period in ticks. The driver addresses the
// sensor at 0x53 (SDO low).
const accelEvery = 10

// accelSampler keeps the cell of an endpoint filled with the latest
// ADXL345 reading: X, Y and Z as big-endian int16 raw counts. It polls on
// the module vertex above the endpoint and samples again right before a
// query is answered.
type accelSampler struct {
	dev  adxl345.Device
	ep   *core.Endpoint
	last uint32
	buf  [6]byte
}

func newAccelSampler(bus *machine.I2C) (*accelSampler, error) {
	if err := bus.Configure(machine.I2CConfig{Frequency: 400000}); err != nil {
		return nil, err
	}
	a := &accelSampler{dev: adxl345.New(bus)}
	a.dev.Configure()
	a.dev.SetRate(adxl345.RATE_100HZ)
	a.dev.SetRange(adxl345.RANGE_16G)
	return a, nil
}

// App returns the endpoint application that refreshes before queries
func (a *accelSampler) App() core.App {
	return core.AppFuncs{
		Data:  func([]byte) core.Verdict { return core.Reject }, // read-only
		Query: a.sample,
	}
}

func (a *accelSampler) Poll(s *core.Scheduler, v *core.Vertex, now uint32) {
	if core.Elapsed(a.last, now) < accelEvery {
		return
	}
	a.last = now
	a.sample()
}

func (a *accelSampler) sample() {
	if a.ep == nil {
		return
	}
	x, y, z := a.dev.ReadRawAcceleration()
	a.buf = [6]byte{
		byte(x >> 8), byte(x),
		byte(y >> 8), byte(y),
		byte(z >> 8), byte(z),
	}
	a.ep.Write(a.buf[:])
}
