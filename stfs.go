// Package stfs implements a log-structured append-only filesystem for
// small memory-mapped embedded flash devices.
//
// The flash is a rectangular array of blocks (the erase unit) by chunks
// (the 128 byte program unit). Directories and files are made of inode and
// data chunks located by content-addressed scanning; mutation means
// writing a fresh chunk or clearing bits in place, and space comes back
// only by vacuuming live chunks into the one block that is kept erased at
// all times.
package stfs

import (
	"log/slog"
	"math/rand"
	"time"
)

// RootOID is the object identifier of the root directory. The root is
// virtual: it has no on-flash inode.
const RootOID = 1

// fileDesc is one slot of the fixed open-file table.
type fileDesc struct {
	used   bool
	idirty bool
	ichunk Chunk // cached inode, the source of truth for size while open
	fptr   uint32
}

// Filesystem is a mounted STFS image. All state (open-file table, reserved
// block index, last error) lives on the handle; a handle must not be used
// from more than one goroutine at a time.
type Filesystem struct {
	dev     Device
	nblocks int
	resv    int // index of the reserved block, kept fully Empty

	fdesc   [MaxOpenFiles]fileDesc
	lastErr error

	rnd *rand.Rand
	log *slog.Logger
}

// Option configures a Filesystem at mount time.
type Option func(fs *Filesystem) error

// WithLogger attaches a logger; debug records cover vacuuming, mounting
// and failure-path cleanup. Without it the filesystem is silent.
func WithLogger(l *slog.Logger) Option {
	return func(fs *Filesystem) error {
		fs.log = l
		return nil
	}
}

// WithRandom sets the randomness source used for reserved-block selection
// and vacuum donor choice. Pass a fixed-seed source for deterministic
// behavior in tests.
func WithRandom(r *rand.Rand) Option {
	return func(fs *Filesystem) error {
		fs.rnd = r
		return nil
	}
}

// New mounts the filesystem on dev. At least one block must start with an
// Empty chunk; one of those is picked at random as the reserved block and
// the open-file table is cleared.
func New(dev Device, opts ...Option) (*Filesystem, error) {
	nblocks := int(dev.Size() / BlockSize)
	if nblocks < 3 {
		return nil, ErrVacuum
	}
	fs := &Filesystem{dev: dev, nblocks: nblocks}
	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, err
		}
	}
	if fs.rnd == nil {
		fs.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var empty []int
	for b := 0; b < nblocks; b++ {
		var t [1]byte
		if _, err := dev.ReadAt(t[:], int64(b)*BlockSize); err != nil {
			return nil, err
		}
		if ChunkType(t[0]) == TypeEmpty {
			empty = append(empty, b)
		}
	}
	if len(empty) == 0 {
		return nil, ErrVacuum
	}
	fs.resv = empty[fs.rnd.Intn(len(empty))]
	fs.debug("mounted", "blocks", nblocks, "reserved", fs.resv)
	return fs, nil
}

// Close releases the handle. Open files are not flushed; call their Close
// first if dirty inodes must reach flash. The device itself is left to the
// caller, which may need to sync or unmap it.
func (fs *Filesystem) Close() error {
	for i := range fs.fdesc {
		fs.fdesc[i] = fileDesc{}
	}
	return nil
}

// LastError returns the error recorded by the most recent failing
// operation on this handle.
func (fs *Filesystem) LastError() error { return fs.lastErr }

// fail records err as the handle's last error and returns it.
func (fs *Filesystem) fail(err error) error {
	fs.lastErr = err
	return err
}

func (fs *Filesystem) debug(msg string, args ...any) {
	if fs.log != nil {
		fs.log.Debug(msg, args...)
	}
}

func chunkOff(b, c int) int64 {
	return int64(b)*BlockSize + int64(c)*ChunkSize
}

func (fs *Filesystem) readChunk(b, c int) (Chunk, error) {
	var ch Chunk
	_, err := fs.dev.ReadAt(ch[:], chunkOff(b, c))
	return ch, err
}

// writeChunk programs ch over the slot at (b, c). The fixed Chunk type
// enforces the record size; the caller is responsible for the slot being
// programmable (Empty, or ch a bit-subset of its current content).
func (fs *Filesystem) writeChunk(b, c int, ch *Chunk) error {
	if err := fs.dev.Program(chunkOff(b, c), ch[:]); err != nil {
		return fs.fail(err)
	}
	return nil
}
