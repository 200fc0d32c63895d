package pca9685

import "testing"

// fakeBus records register writes and answers register reads from regs.
type fakeBus struct {
	regs   [256]byte
	writes [][]byte
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if len(r) > 0 && len(w) == 1 {
		r[0] = b.regs[w[0]]
		return nil
	}
	b.writes = append(b.writes, append([]byte(nil), w...))
	for i, v := range w[1:] {
		b.regs[int(w[0])+i] = v
	}
	return nil
}

func TestPrescale(t *testing.T) {
	cases := map[uint32]uint8{1000: 5, 200: 30, 50: 121}
	for f, want := range cases {
		got, err := Prescale(f)
		if err != nil {
			t.Fatalf("Prescale(%d): %v", f, err)
		}
		if got != want {
			t.Errorf("Prescale(%d)=%d want %d", f, got, want)
		}
	}
	if _, err := Prescale(0); err != ErrFrequency {
		t.Fatalf("Prescale(0) err=%v", err)
	}
	if _, err := Prescale(10_000); err != ErrFrequency {
		t.Fatalf("Prescale(10k) err=%v", err)
	}
}

func TestConfigureWritesPrescaleAndWakes(t *testing.T) {
	b := &fakeBus{}
	d := New(b, 0)
	if err := d.Configure(1000); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if b.regs[regPrescale] != 5 {
		t.Fatalf("prescale=%d", b.regs[regPrescale])
	}
	if b.regs[regMode1]&mode1Sleep != 0 {
		t.Fatal("chip left asleep")
	}
	if b.regs[regMode2] != mode2Outdrv {
		t.Fatalf("mode2=%#x", b.regs[regMode2])
	}
}

func TestSetChannelEncodesDuty(t *testing.T) {
	b := &fakeBus{}
	d := New(b, 0)

	if err := d.Set(3, 1024); err != nil {
		t.Fatal(err)
	}
	base := regLED0OnL + 4*3
	if b.regs[base] != 0 || b.regs[base+1] != 0 || b.regs[base+2] != 0x00 || b.regs[base+3] != 0x04 {
		t.Fatalf("unexpected regs % x", b.regs[base:base+4])
	}

	_ = d.Set(3, 0)
	if b.regs[base+3] != fullBit {
		t.Fatalf("duty 0 should set full-off, got % x", b.regs[base:base+4])
	}
	_ = d.Set(3, MaxDuty)
	if b.regs[base+1] != fullBit || b.regs[base+3] != 0 {
		t.Fatalf("max duty should set full-on, got % x", b.regs[base:base+4])
	}
	if err := d.Set(16, 1); err != ErrChannel {
		t.Fatalf("channel 16 err=%v", err)
	}
}
