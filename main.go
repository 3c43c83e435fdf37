package main

import "ferrite/kernel/boot"

// multibootInfoPtr is populated by the rt0 assembly trampoline (outside
// this repository's scope, per spec.md §1) with the physical address of
// the multiboot2 information structure the bootloader left in EBX. It is
// read through a package-level variable, rather than passed as a literal,
// so the compiler cannot inline this call and optimize boot.Init away.
var multibootInfoPtr uintptr

// main is the only Go symbol rt0 calls directly. It never returns; if it
// somehow did, rt0 halts the CPU.
func main() {
	boot.Init(multibootInfoPtr)
}
