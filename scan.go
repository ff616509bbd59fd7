package stfs

import "bytes"

// pos is a scan cursor over the chunk array, row-major.
type pos struct {
	block, chunk int
}

// findChunk scans forward from *at, skipping the reserved block, and
// returns the first chunk matching the conjunction implied by the
// non-sentinel arguments:
//
//   - TypeInode with oid != 0: the inode carrying that OID
//   - TypeInode with parent != 0: any inode whose parent matches (readdir)
//   - TypeData with seq != SeqAny: the data chunk (oid, seq)
//   - TypeData with seq == SeqAny: any data chunk owned by oid
//   - TypeEmpty / TypeDeleted: the first chunk of that kind
//
// *at is left on the match so the caller can advance past it and re-enter
// to enumerate further matches. Scanning a block for anything but Empty
// stops early at the first Empty chunk: live chunks densely prefix a
// block, so nothing can follow. After each block the chunk cursor resets
// to zero.
func (fs *Filesystem) findChunk(typ ChunkType, oid, parent uint32, seq uint16, at *pos) (Chunk, bool, error) {
	c := at.chunk
	for b := at.block; b < fs.nblocks; b++ {
		if b == fs.resv {
			continue
		}
		for ; c < ChunksPerBlock; c++ {
			ch, err := fs.readChunk(b, c)
			if err != nil {
				return Chunk{}, false, err
			}
			if ch.Type() == typ && fs.chunkMatches(&ch, typ, oid, parent, seq) {
				at.block, at.chunk = b, c
				return ch, true, nil
			}
			if typ != TypeEmpty && ch.Type() == TypeEmpty {
				break
			}
		}
		c = 0
	}
	return Chunk{}, false, nil
}

func (fs *Filesystem) chunkMatches(ch *Chunk, typ ChunkType, oid, parent uint32, seq uint16) bool {
	switch typ {
	case TypeInode:
		if oid != 0 && ch.inodeOID() != oid {
			return false
		}
		return parent == 0 || ch.inodeParent() == parent
	case TypeData:
		if seq != SeqAny {
			return ch.dataOID() == oid && ch.dataSeq() == seq
		}
		return ch.dataOID() == oid
	}
	// Empty and Deleted match on type alone.
	return true
}

// findInodeByParentName returns the inode chunk whose parent and name both
// match. Unlike findChunk it never stops early at an Empty chunk: inodes
// of one directory may sit beyond gaps, and a lookup must tolerate that.
func (fs *Filesystem) findInodeByParentName(parent uint32, name []byte, at *pos) (Chunk, bool, error) {
	for b := 0; b < fs.nblocks; b++ {
		if b == fs.resv {
			continue
		}
		for c := 0; c < ChunksPerBlock; c++ {
			ch, err := fs.readChunk(b, c)
			if err != nil {
				return Chunk{}, false, err
			}
			if ch.Type() != TypeInode || ch.inodeParent() != parent {
				continue
			}
			if bytes.Equal(ch.nameBytes(), name) {
				at.block, at.chunk = b, c
				return ch, true, nil
			}
		}
	}
	return Chunk{}, false, nil
}
