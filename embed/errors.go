package embed

import (
	"errors"

	"github.com/chazu/rootstack/gcstack"
)

var (
	ErrAlreadyInitialized = errors.New("embed: runtime already initialized in this process")
	ErrGuardUsed          = errors.New("embed: guard already consumed")
	ErrSessionClosed      = errors.New("embed: session closed")
	ErrNoTaskSupport      = errors.New("embed: runtime does not support cooperative tasks")

	// ErrFramesLive is returned when an operation needs every frame released.
	ErrFramesLive = gcstack.ErrFramesLive

	ErrFrameFull     = errors.New("embed: frame has no free slots")
	ErrFrameReleased = errors.New("embed: frame already released")
	ErrFrameInactive = errors.New("embed: dynamic frame is not the innermost frame")
)
