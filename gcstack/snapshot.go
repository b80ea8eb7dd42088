package gcstack

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is a process-independent picture of a stack view: frames are
// described by cell indices rather than addresses.
type Snapshot struct {
	Mode      string          `cbor:"mode"`
	Size      int             `cbor:"size"`
	Offset    int             `cbor:"offset"`
	Remaining int             `cbor:"remaining"`
	Frames    []FrameSnapshot `cbor:"frames"`
}

// FrameSnapshot describes one live frame, oldest first in Snapshot.Frames.
type FrameSnapshot struct {
	Header  int      `cbor:"header"`
	NRoots  int      `cbor:"nroots"`
	Dynamic bool     `cbor:"dynamic"`
	Link    int      `cbor:"link"` // header index of the previous frame, -1 outside the buffer
	Roots   []uint64 `cbor:"roots"`
}

// Snapshot captures the view's live frames.
func (v *StackView) Snapshot() *Snapshot {
	v.mustBeOpen()
	s := &Snapshot{
		Mode:      v.mode.Name(),
		Size:      v.buf.Size(),
		Offset:    v.buf.Offset(),
		Remaining: v.buf.Remaining(),
		Frames:    make([]FrameSnapshot, 0, len(v.frames)),
	}
	for _, rec := range v.frames {
		h := rec.handle
		fs := FrameSnapshot{
			Header:  h.Header(),
			NRoots:  v.Len(h),
			Dynamic: rec.dynamic,
			Link:    -1,
			Roots:   make([]uint64, v.Len(h)),
		}
		if idx, ok := v.buf.Index(v.buf.cells[int(h)-1]); ok {
			fs.Link = idx
		}
		for i := range fs.Roots {
			fs.Roots[i] = uint64(v.buf.cells[int(h)+i])
		}
		s.Frames = append(s.Frames, fs)
	}
	return s
}

// LiveRoots counts the non-null roots in the snapshot.
func (s *Snapshot) LiveRoots() int {
	n := 0
	for _, f := range s.Frames {
		for _, r := range f.Roots {
			if r != 0 {
				n++
			}
		}
	}
	return n
}

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("gcstack: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return snapshotEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("gcstack: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
