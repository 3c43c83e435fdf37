package irq

// Init builds and loads the interrupt descriptor table: 256 gates, one per
// vector, every one of them routed through Dispatch. The per-vector gate
// stubs (the bytes that save the CPU-pushed frame, push IntNo/ErrCode, and
// call Dispatch before iret) are hand-written assembly outside this
// repository's scope (spec.md §1: "GDT/IDT assembly stubs"), matching
// gopher-os's gate.Init/installIDT, which are declared exactly the same
// way: Go-visible entry points with no Go body, implemented by the
// accompanying asm. Must be called once during boot, after gdt.Init (the
// gate descriptors reference the kernel code selector gdt.Init installs)
// and before RemapPIC/cpu.EnableInterrupts.
func Init()
