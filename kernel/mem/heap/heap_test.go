package heap

import (
	"ferrite/kernel"
	"ferrite/kernel/mem"
	"reflect"
	"testing"
	"unsafe"
)

func overlayBytes(addr uintptr, size int) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  size,
		Cap:  size,
	}))
}

func newTestHeap(t *testing.T, size mem.Size) *Heap {
	buf := make([]byte, size)
	var h Heap
	h.Init(uintptr(unsafe.Pointer(&buf[0])), size, size, nil)
	t.Cleanup(func() { _ = buf }) // keep buf alive for the duration of the test
	return &h
}

func TestAllocReturnsDistinctNonOverlappingChunks(t *testing.T) {
	h := newTestHeap(t, 4096)

	a, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a == b {
		t.Fatal("expected distinct allocations to return distinct addresses")
	}
	if b >= a && b < a+64 {
		t.Fatal("expected allocated chunks not to overlap")
	}
}

func TestAllocZeroReturnsError(t *testing.T) {
	h := newTestHeap(t, 4096)

	if _, err := h.Alloc(0); err == nil {
		t.Fatal("expected an error allocating zero bytes")
	}
}

func TestFreeThenAllocRestoresUsedSize(t *testing.T) {
	h := newTestHeap(t, 4096)
	before := h.UsedSize()

	p, err := h.Alloc(128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.UsedSize() == before {
		t.Fatal("expected UsedSize to grow after Alloc")
	}

	if err := h.Free(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.UsedSize() != before {
		t.Errorf("expected UsedSize to be restored after Free; got %d want %d", h.UsedSize(), before)
	}
}

func TestDoubleFreeIsDetected(t *testing.T) {
	h := newTestHeap(t, 4096)

	p, err := h.Alloc(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.Free(p); err != nil {
		t.Fatalf("unexpected error on first free: %v", err)
	}
	if err := h.Free(p); err == nil {
		t.Fatal("expected the second free of the same pointer to be reported as a double free")
	}
}

func TestCoalesceReclaimsFullCapacity(t *testing.T) {
	h := newTestHeap(t, 4096)

	a, err := h.Alloc(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := h.Alloc(200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.Free(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Free(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// After freeing everything the whole arena should again be available
	// as one contiguous chunk (minus one header).
	big, err := h.Alloc(uintptr(4096 - headerSize - 8))
	if err != nil {
		t.Fatalf("expected coalescing to reclaim the full arena: %v", err)
	}
	_ = big
}

func TestUsedPlusFreeEqualsCapacity(t *testing.T) {
	h := newTestHeap(t, 4096)

	if _, err := h.Alloc(300); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, exp := h.UsedSize()+h.FreeSize(), h.Capacity(); got != exp {
		t.Errorf("expected used + free == capacity; got %d want %d", got, exp)
	}
}

func TestReallocNilActsLikeAlloc(t *testing.T) {
	h := newTestHeap(t, 4096)

	p, err := h.Realloc(0, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == 0 {
		t.Fatal("expected a non-nil address")
	}
}

func TestReallocShrinkKeepsAddressAndPayload(t *testing.T) {
	h := newTestHeap(t, 4096)

	p, err := h.Alloc(256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := h.UsedSize()

	q, err := h.Realloc(p, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != p {
		t.Fatalf("expected shrinking in place to keep the same address, got %#x want %#x", q, p)
	}
	if h.UsedSize() >= before {
		t.Error("expected UsedSize to shrink after a smaller Realloc")
	}
}

func TestReallocGrowsInPlaceIntoFollowingFreeChunk(t *testing.T) {
	h := newTestHeap(t, 4096)

	p, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Nothing else allocated: the rest of the arena is one large free chunk
	// directly after p, so growing should extend in place.
	q, err := h.Realloc(p, 512)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != p {
		t.Errorf("expected an in-place extension to keep the same address, got %#x want %#x", q, p)
	}
}

func TestReallocFallsBackToAllocCopyFreeWhenNoRoomToExtend(t *testing.T) {
	h := newTestHeap(t, 4096)

	a, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Pin the chunk immediately following a so there is no free neighbor to
	// extend into, forcing the alloc-copy-free path.
	if _, err := h.Alloc(64); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	copy(overlayBytes(a, 64), payload)

	q, err := h.Realloc(a, 512)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q == a {
		t.Fatal("expected Realloc to relocate when it cannot extend in place")
	}

	moved := overlayBytes(q, 64)
	for i := range payload {
		if moved[i] != payload[i] {
			t.Fatalf("expected the relocated chunk to preserve its payload at byte %d: got %d want %d", i, moved[i], payload[i])
		}
	}
}

func TestReallocZeroReturnsError(t *testing.T) {
	h := newTestHeap(t, 4096)

	p, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := h.Realloc(p, 0); err == nil {
		t.Fatal("expected an error reallocating to zero bytes")
	}
}

func TestReallocOfFreedPointerIsDetected(t *testing.T) {
	h := newTestHeap(t, 4096)

	p, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Free(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := h.Realloc(p, 128); err == nil {
		t.Fatal("expected reallocating an already-freed pointer to be reported as a double free")
	}
}

func TestGrowArenaWhenExhausted(t *testing.T) {
	const initial = mem.Size(256)
	arena := make([]byte, 8192)
	var h Heap

	grown := false
	h.Init(uintptr(unsafe.Pointer(&arena[0])), initial, 8192, func(newCapacity mem.Size) *kernel.Error {
		grown = true
		return nil
	})

	if _, err := h.Alloc(1000); err != nil {
		t.Fatalf("unexpected error growing the arena: %v", err)
	}
	if !grown {
		t.Error("expected GrowFn to be invoked once the initial arena was exhausted")
	}
}
