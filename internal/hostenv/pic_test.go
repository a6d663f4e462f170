package hostenv

import "testing"

// initPIC drives the same ICW1-4 remap sequence internal/kernel/irq.New
// issues, placing both chips in picInitialized state with IRQBase=32.
func initPIC(t *testing.T, pic *PIC) {
	t.Helper()
	writes := []struct {
		port uint16
		val  byte
	}{
		{PICPrimaryCommandPort, 0x11}, {PICSecondaryCommandPort, 0x11},
		{PICPrimaryDataPort, 32}, {PICSecondaryDataPort, 40},
		{PICPrimaryDataPort, 0x04}, {PICSecondaryDataPort, 0x02},
		{PICPrimaryDataPort, 0x01}, {PICSecondaryDataPort, 0x01},
		{PICPrimaryDataPort, 0xFF}, {PICSecondaryDataPort, 0xFF},
	}
	for _, w := range writes {
		if err := pic.WriteIOPort(w.port, []byte{w.val}); err != nil {
			t.Fatalf("WriteIOPort(%#x, %#x): %v", w.port, w.val, err)
		}
	}
}

func unmask(t *testing.T, pic *PIC, line uint8) {
	t.Helper()
	port := PICPrimaryDataPort
	bit := uint8(1 << line)
	if line >= 8 {
		port = PICSecondaryDataPort
		bit = 1 << (line - 8)
	}
	var cur [1]byte
	if err := pic.ReadIOPort(port, cur[:]); err != nil {
		t.Fatalf("ReadIOPort: %v", err)
	}
	if err := pic.WriteIOPort(port, []byte{cur[0] &^ bit}); err != nil {
		t.Fatalf("WriteIOPort: %v", err)
	}
}

func TestPICRaiseAndAcknowledge(t *testing.T) {
	pic := NewPIC()
	initPIC(t, pic)
	unmask(t, pic, 0)

	pic.SetIRQ(0, true)
	pic.SetIRQ(0, false)
	requested, vec := pic.Acknowledge()
	if !requested {
		t.Fatal("expected IRQ0 to be pending after SetIRQ")
	}
	if vec != 32 {
		t.Fatalf("vector = %d, want 32 (IRQBase+0)", vec)
	}
}

func TestPICMaskedLineNeverAcknowledges(t *testing.T) {
	pic := NewPIC()
	initPIC(t, pic)
	// IRQ3 stays masked (only 0 and 1 get unmasked in irq.New).
	pic.SetIRQ(3, true)
	pic.SetIRQ(3, false)
	if requested, _ := pic.Acknowledge(); requested {
		t.Fatal("masked IRQ3 should never be acknowledged")
	}
}

func TestPICCascadeFromSecondaryChip(t *testing.T) {
	pic := NewPIC()
	initPIC(t, pic)
	unmask(t, pic, 2) // primary cascade line must be open too
	unmask(t, pic, 9) // secondary line 1 -> IRQ9

	pic.SetIRQ(9, true)
	pic.SetIRQ(9, false)
	requested, vec := pic.Acknowledge()
	if !requested {
		t.Fatal("expected cascaded IRQ9 to be pending")
	}
	if vec != 40+1 {
		t.Fatalf("vector = %d, want %d (secondary base 40 + line 1)", vec, 41)
	}
}

func TestPICSetReadyLineReflectsPendingState(t *testing.T) {
	pic := NewPIC()
	initPIC(t, pic)
	unmask(t, pic, 0)

	var levels []bool
	pic.SetReadyLine(IRQLineFunc(func(high bool) { levels = append(levels, high) }))

	pic.SetIRQ(0, true)
	if len(levels) == 0 || !levels[len(levels)-1] {
		t.Fatalf("expected ready line to go high after SetIRQ, got %v", levels)
	}
}

func TestPICAcknowledgeThenEOIClearsISR(t *testing.T) {
	pic := NewPIC()
	initPIC(t, pic)
	unmask(t, pic, 0)

	pic.SetIRQ(0, true)
	pic.SetIRQ(0, false)
	if requested, _ := pic.Acknowledge(); !requested {
		t.Fatal("expected IRQ0 pending")
	}
	// Specific EOI for IRQ0 (OCW2 0x60 | 0).
	if err := pic.WriteIOPort(PICPrimaryCommandPort, []byte{0x60}); err != nil {
		t.Fatalf("EOI write: %v", err)
	}
	// Re-raising after EOI should be acknowledgeable again.
	pic.SetIRQ(0, true)
	pic.SetIRQ(0, false)
	if requested, _ := pic.Acknowledge(); !requested {
		t.Fatal("expected IRQ0 to be acknowledgeable again after EOI")
	}
}
