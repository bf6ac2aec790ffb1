package serial

import (
	"io"
	"testing"

	"github.com/fortytw2/leaktest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Device != "/dev/ttyACM0" || cfg.Baud != DefaultBaud || cfg.ReadTimeout != 100 {
		t.Errorf("DefaultConfig: got %+v", cfg)
	}
}

func TestPipe(t *testing.T) {
	defer leaktest.Check(t)()

	a, b := Pipe()
	done := make(chan []byte)
	go func() {
		buf := make([]byte, 4)
		n, _ := io.ReadFull(b, buf)
		done <- buf[:n]
	}()
	if _, err := a.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := <-done; string(got) != "\x01\x02\x03\x04" {
		t.Errorf("Read: got %x", got)
	}
	if err := a.Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
	a.Close()
	if _, err := b.Read(make([]byte, 1)); err == nil {
		t.Error("Read after peer close should fail")
	}
	b.Close()
}
