package multiboot

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

// buildInfo assembles a minimal multiboot2 info blob in an ordinary Go
// buffer: the 8-byte info header, followed by caller-supplied tags, then
// the terminating tagMbSectionEnd tag. Tags must already be 8-byte aligned.
func buildInfo(tags ...[]byte) []byte {
	buf := make([]byte, 8)
	for _, tag := range tags {
		buf = append(buf, tag...)
	}
	buf = append(buf, 0, 0, 0, 0, 8, 0, 0, 0) // tagMbSectionEnd, size=8
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	return buf
}

func cmdLineTag(s string) []byte {
	content := append([]byte(s), 0)
	for len(content)%8 != 0 {
		content = append(content, 0)
	}
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(tagBootCmdLine))
	binary.LittleEndian.PutUint32(header[4:8], uint32(8+len(content)))
	return append(header, content...)
}

func setInfo(t *testing.T, buf []byte) {
	SetInfoPtr(uintptr(unsafe.Pointer(&buf[0])))
	t.Cleanup(func() { SetInfoPtr(0) })
}

func TestBootCmdLineParsesKeyValuePairs(t *testing.T) {
	buf := buildInfo(cmdLineTag("phz=100 debug=1 noise"))
	setInfo(t, buf)

	cfg := BootCmdLine()
	if cfg["phz"] != "100" {
		t.Errorf("expected phz=100, got %q", cfg["phz"])
	}
	if cfg["debug"] != "1" {
		t.Errorf("expected debug=1, got %q", cfg["debug"])
	}
	if _, ok := cfg["noise"]; ok {
		t.Error("expected a token with no '=' to be ignored")
	}
}

func TestBootCmdLineMissingTagReturnsEmptyMap(t *testing.T) {
	buf := buildInfo()
	setInfo(t, buf)

	cfg := BootCmdLine()
	if len(cfg) != 0 {
		t.Errorf("expected an empty map, got %v", cfg)
	}
}

func TestMemoryEntryTypeUsable(t *testing.T) {
	cases := []struct {
		kind MemoryEntryType
		want bool
	}{
		{MemAvailable, true},
		{MemAcpiReclaimable, true},
		{MemReserved, false},
		{MemNvs, false},
		{MemBad, false},
	}
	for _, c := range cases {
		if got := c.kind.Usable(); got != c.want {
			t.Errorf("%v.Usable() = %v, want %v", c.kind, got, c.want)
		}
	}
}
