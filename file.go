package stfs

import (
	"bytes"
	"io"
)

// Create is the single flag bit Open recognizes besides plain read/write.
const Create = 64

// File is an open file: a slot in the fixed descriptor table plus the
// cached inode that is the source of truth for the file's size while it
// stays open.
type File struct {
	fs   *Filesystem
	fd   int
	name string
}

var _ io.ReadWriteSeeker = (*File)(nil)

func (f *File) desc() (*fileDesc, error) {
	if f == nil || f.fd >= MaxOpenFiles {
		return nil, ErrInvalidFd
	}
	if f.fd < 0 || !f.fs.fdesc[f.fd].used {
		return nil, f.fs.fail(ErrNotOpen)
	}
	return &f.fs.fdesc[f.fd], nil
}

// Name returns the path the file was opened with.
func (f *File) Name() string { return f.name }

// Size returns the file's current size as seen through this descriptor.
func (f *File) Size() (int64, error) {
	d, err := f.desc()
	if err != nil {
		return 0, err
	}
	return int64(d.ichunk.inodeSize()), nil
}

// Open opens the file named by the absolute path. With flags == 0 the file
// must exist and be a regular file. With flags == Create it must not
// exist; a fresh zero-length file inode is written immediately and the
// descriptor is marked dirty so Close reconciles it. At most MaxOpenFiles
// files can be open at once.
func (fs *Filesystem) Open(path string, flags int) (*File, error) {
	fd := -1
	for i := range fs.fdesc {
		if !fs.fdesc[i].used {
			fd = i
			break
		}
	}
	if fd == -1 {
		return nil, fs.fail(ErrNoFds)
	}

	npath := normalizePath(path)
	switch flags {
	case Create:
		// a second descriptor creating the same (parent, name) would
		// produce two inodes for one path at close time; this is checked
		// before the existence probe so it wins over ErrExists
		if dir, name, err := splitPath(npath); err == nil {
			var at pos
			if parent, err := fs.oidByPath(dir, &at); err == nil {
				for i := range fs.fdesc {
					if !fs.fdesc[i].used || !fs.fdesc[i].idirty {
						continue
					}
					other := &fs.fdesc[i].ichunk
					if other.inodeParent() == parent && bytes.Equal(other.nameBytes(), []byte(name)) {
						return nil, fs.fail(ErrReopen)
					}
				}
			}
		}
		if _, _, err := fs.resolve(npath); err == nil {
			return nil, fs.fail(ErrExists)
		}
		parent, name, err := fs.createObject(npath)
		if err != nil {
			return nil, err
		}
		oid, err := fs.newOID()
		if err != nil {
			return nil, fs.fail(err)
		}
		ich := packInode(KindFile, 0, parent, oid, []byte(name), 0xFF)
		fs.fdesc[fd] = fileDesc{used: true, idirty: true, ichunk: ich}
		if err := fs.storeChunk(&ich); err != nil {
			fs.fdesc[fd] = fileDesc{}
			return nil, err
		}
		return &File{fs: fs, fd: fd, name: path}, nil

	case 0:
		oid, at, err := fs.resolve(npath)
		if err != nil {
			return nil, err
		}
		ch, err := fs.readChunk(at.block, at.chunk)
		if err != nil {
			return nil, fs.fail(err)
		}
		if oid == RootOID || ch.inodeKind() != KindFile {
			return nil, fs.fail(ErrOpen)
		}
		fs.fdesc[fd] = fileDesc{used: true, ichunk: ch}
		return &File{fs: fs, fd: fd, name: path}, nil
	}
	return nil, fs.fail(ErrOpen)
}

// Seek repositions the file pointer. The pointer must stay within
// [0, size]; there are no sparse files, so seeking past the end fails.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	d, err := f.desc()
	if err != nil {
		return 0, err
	}
	cur := int64(d.fptr)
	switch whence {
	case io.SeekStart:
		cur = offset
	case io.SeekCurrent:
		cur += offset
	case io.SeekEnd:
		cur = int64(d.ichunk.inodeSize()) + offset
	}
	if cur < 0 {
		return 0, f.fs.fail(ErrSeekSOF)
	}
	if cur > int64(d.ichunk.inodeSize()) {
		return 0, f.fs.fail(ErrSeekEOF)
	}
	d.fptr = uint32(cur)
	return cur, nil
}

// Read copies up to len(p) bytes at the file pointer into p. It returns
// io.EOF at end of file. A data chunk missing inside the valid range is
// an invariant violation and fails with ErrNoChunk.
func (f *File) Read(p []byte) (int, error) {
	d, err := f.desc()
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	size := uint32(d.ichunk.inodeSize())
	if d.fptr >= size {
		return 0, io.EOF
	}
	n := size - d.fptr
	if int64(len(p)) < int64(n) {
		n = uint32(len(p))
	}
	read, err := f.fs.readRange(d.ichunk.inodeOID(), d.fptr, p[:n])
	if err != nil {
		return 0, err
	}
	d.fptr += read
	return int(read), nil
}

// readRange copies len(p) bytes of the file owned by oid starting at byte
// offset off, crossing chunk boundaries as needed. The caller has already
// clamped the range to the file size.
func (fs *Filesystem) readRange(oid, off uint32, p []byte) (uint32, error) {
	var read uint32
	for read < uint32(len(p)) {
		seq := (off + read) / DataPerChunk
		coff := (off + read) % DataPerChunk
		var at pos
		ch, ok, err := fs.findChunk(TypeData, oid, 0, uint16(seq), &at)
		if err != nil {
			return 0, fs.fail(err)
		}
		if !ok {
			return 0, fs.fail(ErrNoChunk)
		}
		read += uint32(copy(p[read:], ch.payload()[coff:]))
	}
	return read, nil
}

// Write stores p at the file pointer. A write reaching past MaxFileSize is
// clamped and fails with ErrTooBig after storing the clamped prefix; a
// write failing for space mid-way returns the bytes stored so far with the
// allocator's error. Either way the cached inode and file pointer cover
// exactly the bytes written.
func (f *File) Write(p []byte) (int, error) {
	d, err := f.desc()
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	fs := f.fs

	n := uint32(MaxFileSize + 1) // anything past the limit clamps the same
	if len(p) <= MaxFileSize {
		n = uint32(len(p))
	}
	var clampErr error
	if d.fptr+n > MaxFileSize {
		clampErr = fs.fail(ErrTooBig)
		n = MaxFileSize - d.fptr
	}
	size := uint32(d.ichunk.inodeSize())
	if d.fptr > size {
		return 0, fs.fail(ErrInvalidFptr)
	}
	oid := d.ichunk.inodeOID()

	// Delete every existing chunk the write covers in full before storing
	// anything. On a nearly full device each of those chunks would
	// otherwise be superseded one by one, paying a vacuum per chunk;
	// deleting them up front frees their slots for a single reclaim.
	// Partially covered boundary chunks keep their out-of-range bytes and
	// go through the splice path below.
	if n > 0 && d.fptr < size {
		first := (d.fptr + DataPerChunk - 1) / DataPerChunk
		end := (d.fptr + n) / DataPerChunk
		if nchunks := (size + DataPerChunk - 1) / DataPerChunk; end > nchunks {
			end = nchunks
		}
		for s := first; s < end; s++ {
			var at pos
			if _, ok, err := fs.findChunk(TypeData, oid, 0, uint16(s), &at); err != nil {
				return 0, fs.fail(err)
			} else if ok {
				if err := fs.delChunk(at.block, at.chunk); err != nil {
					return 0, err
				}
			}
		}
	}

	var written uint32
	var storeErr error
	for written < n {
		coff := (d.fptr + written) % DataPerChunk
		seq := (d.fptr + written) / DataPerChunk
		towrite := DataPerChunk - coff
		if n-written < towrite {
			towrite = n - written
		}

		var at pos
		old, ok, err := fs.findChunk(TypeData, oid, 0, uint16(seq), &at)
		if err != nil {
			storeErr = fs.fail(err)
			break
		}
		if ok {
			// splice the new bytes into the existing chunk; if the result
			// only clears bits we can program it in place, otherwise the
			// old chunk is superseded
			nch := old
			copy(nch[datOffPayload+int(coff):datOffPayload+int(coff+towrite)], p[written:])
			if bitSubset(&old, &nch) {
				if err := fs.writeChunk(at.block, at.chunk, &nch); err != nil {
					storeErr = err
					break
				}
			} else {
				if err := fs.delChunk(at.block, at.chunk); err != nil {
					storeErr = err
					break
				}
				if err := fs.storeChunk(&nch); err != nil {
					storeErr = err
					break
				}
			}
		} else {
			nch := packData(oid, uint16(seq), int(coff), p[written:written+towrite])
			if err := fs.storeChunk(&nch); err != nil {
				storeErr = err
				break
			}
		}
		written += towrite
	}

	if d.fptr+written > size {
		d.ichunk.setInodeSize(uint16(d.fptr + written))
		d.idirty = true
	}
	d.fptr += written

	if storeErr != nil {
		return int(written), storeErr
	}
	if clampErr != nil {
		return int(written), clampErr
	}
	return int(written), nil
}

// delChunks deletes every data chunk owned by oid.
func (fs *Filesystem) delChunks(oid uint32) error {
	count := 0
	for {
		var at pos
		_, ok, err := fs.findChunk(TypeData, oid, 0, SeqAny, &at)
		if err != nil {
			return fs.fail(err)
		}
		if !ok {
			break
		}
		if err := fs.delChunk(at.block, at.chunk); err != nil {
			return err
		}
		count++
	}
	fs.debug("reaped data chunks", "oid", oid, "count", count)
	return nil
}

// Close releases the descriptor. If the inode is dirty it is reconciled
// with flash first: the directory path must still lead to the root, and
// the on-flash inode must still be this file. A severed path or a
// replaced inode means the data chunks belong to nobody and are reaped.
// The slot is freed in every case.
func (f *File) Close() error {
	d, err := f.desc()
	if err != nil {
		return err
	}
	fs := f.fs
	defer func() {
		fs.fdesc[f.fd] = fileDesc{}
		f.fd = -1
	}()

	if !d.idirty {
		return nil
	}
	oid := d.ichunk.inodeOID()

	if parent := d.ichunk.inodeParent(); parent != RootOID {
		var at pos
		ch, ok, err := fs.findChunk(TypeInode, parent, 0, 0, &at)
		if err != nil {
			return fs.fail(err)
		}
		for ok && ch.inodeParent() != RootOID {
			at = pos{}
			ch, ok, err = fs.findChunk(TypeInode, ch.inodeParent(), 0, 0, &at)
			if err != nil {
				return fs.fail(err)
			}
		}
		if !ok || !ch.inodeKind().IsDir() {
			if err := fs.delChunks(oid); err != nil {
				return err
			}
			return fs.fail(ErrDangling)
		}
	}

	var at pos
	ch, ok, err := fs.findChunk(TypeInode, oid, 0, 0, &at)
	if err != nil {
		return fs.fail(err)
	}
	switch {
	case !ok || ch.inodeKind() != KindFile:
		// unlinked (and possibly replaced by a directory) while open
		if err := fs.delChunks(oid); err != nil {
			return err
		}
	case ch != d.ichunk:
		if err := fs.delChunk(at.block, at.chunk); err != nil {
			return err
		}
		if err := fs.storeChunk(&d.ichunk); err != nil {
			// the old inode is gone and the new one did not make it; the
			// data chunks now belong to nobody and would poison a future
			// file reusing this OID
			fs.delChunks(oid)
			return err
		}
	}
	return nil
}

// Unlink removes a regular file: its inode first, then every data chunk it
// owns.
func (fs *Filesystem) Unlink(path string) error {
	oid, at, err := fs.resolve(path)
	if err != nil {
		return err
	}
	ch, err := fs.readChunk(at.block, at.chunk)
	if err != nil {
		return fs.fail(err)
	}
	if oid == RootOID || ch.inodeKind() != KindFile {
		return fs.fail(ErrOpen)
	}
	if err := fs.delChunk(at.block, at.chunk); err != nil {
		return err
	}
	return fs.delChunks(oid)
}

// Truncate shrinks the file at path to length bytes. Growing is not
// supported. The boundary chunk, if the new length falls inside one, is
// rewritten with its tail reset to 0xFF; chunks wholly past the new end
// are deleted.
func (fs *Filesystem) Truncate(path string, length uint32) error {
	oid, at, err := fs.resolve(path)
	if err != nil {
		return err
	}
	ch, err := fs.readChunk(at.block, at.chunk)
	if err != nil {
		return fs.fail(err)
	}
	if oid == RootOID || ch.inodeKind() != KindFile {
		return fs.fail(ErrOpen)
	}
	if uint32(ch.inodeSize()) < length {
		return fs.fail(ErrNoExt)
	}

	nch := ch
	nch.setInodeSize(uint16(length))
	if err := fs.storeChunk(&nch); err != nil {
		return err
	}
	// storing may have vacuumed the old inode to a different slot, so it
	// is re-located by content instead of trusting the resolver's cursor
	var iat pos
	for {
		och, ok, err := fs.findChunk(TypeInode, oid, 0, 0, &iat)
		if err != nil {
			return fs.fail(err)
		}
		if !ok {
			break
		}
		if och == ch {
			if err := fs.delChunk(iat.block, iat.chunk); err != nil {
				return err
			}
			break
		}
		if iat.chunk+1 >= ChunksPerBlock {
			iat.block++
			iat.chunk = 0
		} else {
			iat.chunk++
		}
	}

	seq := length / DataPerChunk
	if rem := length % DataPerChunk; rem > 0 {
		var dat pos
		dch, ok, err := fs.findChunk(TypeData, oid, 0, uint16(seq), &dat)
		if err != nil {
			return fs.fail(err)
		}
		if !ok {
			return fs.fail(ErrNoChunk)
		}
		for i := datOffPayload + int(rem); i < ChunkSize; i++ {
			dch[i] = 0xFF
		}
		if err := fs.delChunk(dat.block, dat.chunk); err != nil {
			return err
		}
		if err := fs.storeChunk(&dch); err != nil {
			return err
		}
		seq++
	}
	for {
		var dat pos
		_, ok, err := fs.findChunk(TypeData, oid, 0, uint16(seq), &dat)
		if err != nil {
			return fs.fail(err)
		}
		if !ok {
			return nil
		}
		if err := fs.delChunk(dat.block, dat.chunk); err != nil {
			return err
		}
		seq++
	}
}
