// Package embed is the session layer over gcstack. It owns the process-wide
// initialization guard, the per-session slot buffer, and the frame scopes
// through which callers root foreign values.
//
// A Session runs frames in Direct mode on the runtime's root-list head. An
// Executor runs cooperative tasks, each on its own buffer in Chained mode.
// A Worker owns a Session on a locked OS thread for callers on other
// goroutines. Scopes release their frames on return, in reverse order, even
// when the callback fails or panics.
package embed
