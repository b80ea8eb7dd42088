// Package gcstack implements the rooted-value stack shared between Go code
// and a foreign garbage collector.
//
// This package contains:
//   - SlotBuffer: a fixed block of pointer-sized cells outside the Go heap
//   - StackView: a bump allocator handing out frames of root slots
//   - Direct and Chained: the two ways a frame is linked into the
//     collector's root list
//   - Walk: a reader for the collector-side frame layout
//
// Every frame has the layout the collector expects:
//
//	[nroots<<1, prev, root0, root1, ...]
//
// Cell 0 of a buffer holds the bump offset. Cells 1 and 2 hold the sentinel
// frame used by the Chained policy and stay zero under Direct.
//
// All raw memory access in the module happens here and in internal/rawmem.
// Callers only ever see FrameHandle and SlotRef values.
package gcstack
