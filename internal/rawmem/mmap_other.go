//go:build !unix

package rawmem

// Without mmap the block lives on the Go heap. Go does not move heap
// objects, so addresses stay stable while the Block is reachable, but foreign
// code must not retain them past a call.
func mapCells(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapCells(mem []byte) error {
	return nil
}
