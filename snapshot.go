package stfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio"
)

// Image snapshots wrap the raw blocks-by-chunks array in a small header so
// a device survives process restarts and can be inspected offline. The
// header is little-endian:
//
//	magic "STFS" | version | codec | block count | chunks per block |
//	chunk size | payload length
//
// The geometry fields let a reader reject images built for a different
// compiled-in layout instead of misparsing them.

const imageMagic = 0x53465453 // "STFS", little-endian
const imageVersion = 1

// ErrInvalidImage is returned when an image file does not carry the
// snapshot magic or was written for an incompatible geometry.
var ErrInvalidImage = errors.New("invalid stfs image")

type imageHeader struct {
	Magic          uint32
	Version        uint16
	Comp           uint16
	Blocks         uint32
	ChunksPerBlock uint32
	ChunkSize      uint32
	PayloadLen     uint64
}

// WriteImage snapshots the device behind fs into w using codec comp.
func (fs *Filesystem) WriteImage(w io.Writer, comp Compression) error {
	h, err := compHandler(comp)
	if err != nil {
		return err
	}
	raw := make([]byte, fs.dev.Size())
	if _, err := fs.dev.ReadAt(raw, 0); err != nil {
		return err
	}
	payload, err := h.Compress(raw)
	if err != nil {
		return err
	}
	hdr := imageHeader{
		Magic:          imageMagic,
		Version:        imageVersion,
		Comp:           uint16(comp),
		Blocks:         uint32(fs.nblocks),
		ChunksPerBlock: ChunksPerBlock,
		ChunkSize:      ChunkSize,
		PayloadLen:     uint64(len(payload)),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadImage reads a snapshot written by WriteImage and returns an in-RAM
// device holding the decoded flash array.
func ReadImage(r io.Reader) (*MemDevice, error) {
	var hdr imageHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != imageMagic || hdr.Version != imageVersion {
		return nil, ErrInvalidImage
	}
	if hdr.ChunksPerBlock != ChunksPerBlock || hdr.ChunkSize != ChunkSize {
		return nil, fmt.Errorf("%w: geometry %dx%d not supported", ErrInvalidImage, hdr.ChunksPerBlock, hdr.ChunkSize)
	}
	h, err := compHandler(Compression(hdr.Comp))
	if err != nil {
		return nil, err
	}
	payload := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	raw, err := h.Decompress(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) != int(hdr.Blocks)*BlockSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d blocks", ErrInvalidImage, len(raw), hdr.Blocks)
	}
	return memDeviceFromImage(raw)
}

// SaveImage writes a snapshot to path atomically: the image is staged in a
// temporary file and moved into place, so a crash mid-save never leaves a
// truncated image behind.
func (fs *Filesystem) SaveImage(path string, comp Compression) error {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer f.Cleanup()
	if err := fs.WriteImage(f, comp); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}

// LoadImage reads a snapshot file into an in-RAM device.
func LoadImage(path string) (*MemDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadImage(f)
}
