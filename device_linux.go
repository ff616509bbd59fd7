//go:build linux

package stfs

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MmapDevice is a raw (headerless, uncompressed) flash image file mapped
// into memory, the closest a hosted build gets to the memory-mapped parts
// this filesystem targets. Reads come straight out of the mapping;
// Program applies NOR AND-semantics; Sync flushes the mapping back to the
// file.
type MmapDevice struct {
	f    *os.File
	data []byte
}

// OpenMmapDevice maps the raw image file at path. Its size must be a
// multiple of the block size.
func OpenMmapDevice(path string) (*MmapDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 || st.Size()%BlockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("stfs: image size %d is not a multiple of the %d byte block size", st.Size(), BlockSize)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &MmapDevice{f: f, data: data}, nil
}

func (d *MmapDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *MmapDevice) Program(off int64, p []byte) error {
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return fmt.Errorf("stfs: program out of range at %d", off)
	}
	for i, b := range p {
		d.data[off+int64(i)] &= b
	}
	return nil
}

func (d *MmapDevice) Erase(b int) error {
	off := b * BlockSize
	if b < 0 || off+BlockSize > len(d.data) {
		return fmt.Errorf("stfs: erase of block %d out of range", b)
	}
	for i := off; i < off+BlockSize; i++ {
		d.data[i] = 0xFF
	}
	return nil
}

func (d *MmapDevice) Size() int64 { return int64(len(d.data)) }

// Sync flushes the mapping to the underlying file.
func (d *MmapDevice) Sync() error {
	return unix.Msync(d.data, unix.MS_SYNC)
}

// Close unmaps the image and closes the file. The mapping is synced
// first.
func (d *MmapDevice) Close() error {
	if d.data != nil {
		if err := unix.Msync(d.data, unix.MS_SYNC); err != nil {
			unix.Munmap(d.data)
			d.data = nil
			d.f.Close()
			return err
		}
		if err := unix.Munmap(d.data); err != nil {
			d.data = nil
			d.f.Close()
			return err
		}
		d.data = nil
	}
	return d.f.Close()
}
