package vmm

import (
	"ferrite/kernel/mem/pmm"
	"testing"
)

func TestPageTableEntryFlags(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagPresent | FlagRW)
	if !pte.HasFlags(FlagPresent) || !pte.HasFlags(FlagRW) {
		t.Fatal("expected both flags to be set")
	}
	if pte.HasFlags(FlagUser) {
		t.Fatal("did not expect FlagUser to be set")
	}

	pte.ClearFlags(FlagRW)
	if pte.HasFlags(FlagRW) {
		t.Fatal("expected FlagRW to be cleared")
	}
	if !pte.HasFlags(FlagPresent) {
		t.Fatal("expected FlagPresent to remain set after clearing FlagRW")
	}
}

func TestPageTableEntryFrame(t *testing.T) {
	var pte pageTableEntry
	pte.SetFlags(FlagPresent | FlagRW)
	pte.SetFrame(pmm.Frame(42))

	if got := pte.Frame(); got != pmm.Frame(42) {
		t.Fatalf("expected frame 42; got %v", got)
	}
	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected SetFrame to preserve existing flags")
	}
}
