package rtc

import "testing"

func withMockCMOS(t *testing.T, registers map[uint8]uint8) {
	origIn, origOut := inbFn, outbFn
	var selected uint8

	outbFn = func(port uint16, value uint8) {
		if port == cmosAddress {
			selected = value
		}
	}
	inbFn = func(port uint16) uint8 {
		if port == cmosData {
			return registers[selected]
		}
		return 0
	}

	t.Cleanup(func() { inbFn, outbFn = origIn, origOut })
}

func TestReadDecodesBCDTime(t *testing.T) {
	withMockCMOS(t, map[uint8]uint8{
		regStatusA: 0x00,
		regSeconds: 0x45, // BCD 45
		regMinutes: 0x30, // BCD 30
		regHours:   0x14, // BCD 14 (24h mode)
		regDay:     0x15, // BCD 15
		regMonth:   0x06, // BCD 06
		regYear:    0x26, // BCD 26 -> 2026
		regStatusB: 0x02, // 24h mode, BCD encoding
	})

	got := Read()

	if got.Second != 45 || got.Minute != 30 || got.Hour != 14 {
		t.Errorf("unexpected time of day: %+v", got)
	}
	if got.Day != 15 || got.Month != 6 || got.Year != 2026 {
		t.Errorf("unexpected date: %+v", got)
	}
}

func TestReadPassesThroughBinaryMode(t *testing.T) {
	withMockCMOS(t, map[uint8]uint8{
		regStatusA: 0x00,
		regSeconds: 45,
		regMinutes: 30,
		regHours:   14,
		regDay:     15,
		regMonth:   6,
		regYear:    26,
		regStatusB: 0x06, // 24h mode, binary encoding
	})

	got := Read()

	if got.Second != 45 || got.Minute != 30 || got.Hour != 14 || got.Year != 2026 {
		t.Errorf("unexpected time: %+v", got)
	}
}
