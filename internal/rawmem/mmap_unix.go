//go:build unix

package rawmem

import "golang.org/x/sys/unix"

func mapCells(size int) ([]byte, error) {
	return unix.Mmap(
		-1,
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		// Anonymous and private: plain process memory the Go collector
		// does not scan or move.
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
}

func unmapCells(mem []byte) error {
	return unix.Munmap(mem)
}
