// Package simrt is a small managed runtime with a mark/sweep collector. It
// stands in for the foreign runtime in tests and in the rootstack CLI: its
// collector finds roots only by walking gcstack root lists, the same way
// the real runtime does.
package simrt
