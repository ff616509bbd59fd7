package stfs

// BlockStat counts the chunk states of one block.
type BlockStat struct {
	Empty    int
	Live     int // inode and data chunks
	Deleted  int
	Reserved bool
}

// BlockStats scans the device and returns per-block counters. Used by the
// info tooling; the vacuumer runs the same accounting internally.
func (fs *Filesystem) BlockStats() ([]BlockStat, error) {
	stats := make([]BlockStat, fs.nblocks)
	for b := 0; b < fs.nblocks; b++ {
		stats[b].Reserved = b == fs.resv
		for c := 0; c < ChunksPerBlock; c++ {
			ch, err := fs.readChunk(b, c)
			if err != nil {
				return nil, err
			}
			switch ch.Type() {
			case TypeEmpty:
				stats[b].Empty++
			case TypeDeleted:
				stats[b].Deleted++
			default:
				stats[b].Live++
			}
		}
	}
	return stats, nil
}

// vacuum clears one live block: its live chunks are copied into the low
// end of the reserved block in order, the donor is erased, and the donor
// becomes the new reserved block. The donor is the live block with the
// most reclaimable (Empty plus Deleted) chunks; to spread wear, a later
// block reaching at least 90% of the current best takes over with
// probability 1/4. A donor with nothing reclaimable is no donor at all.
func (fs *Filesystem) vacuum() error {
	stats, err := fs.BlockStats()
	if err != nil {
		return fs.fail(err)
	}
	candidate := -1
	reclaim := 0
	for b := 0; b < fs.nblocks; b++ {
		if b == fs.resv {
			continue
		}
		r := stats[b].Empty + stats[b].Deleted
		if r > reclaim {
			candidate = b
			reclaim = r
		} else if r > 0 && r*10 >= reclaim*9 && fs.rnd.Intn(4) == 0 {
			candidate = b
			reclaim = r
		}
	}
	if candidate == -1 {
		fs.debug("vacuum found no donor", "reserved", fs.resv)
		return fs.fail(ErrVacuum)
	}
	fs.debug("vacuuming", "from", candidate, "to", fs.resv,
		"live", stats[candidate].Live, "reclaim", reclaim)

	i := 0
	for c := 0; c < ChunksPerBlock; c++ {
		ch, err := fs.readChunk(candidate, c)
		if err != nil {
			return fs.fail(err)
		}
		if t := ch.Type(); t == TypeInode || t == TypeData {
			if err := fs.writeChunk(fs.resv, i, &ch); err != nil {
				return err
			}
			i++
		}
	}
	if err := fs.dev.Erase(candidate); err != nil {
		return fs.fail(err)
	}
	fs.resv = candidate
	return nil
}

// storeChunk places ch in the first Empty slot, vacuuming once if none is
// left. Failing that the filesystem is full.
func (fs *Filesystem) storeChunk(ch *Chunk) error {
	var at pos
	_, ok, err := fs.findChunk(TypeEmpty, 0, 0, 0, &at)
	if err != nil {
		return fs.fail(err)
	}
	if !ok {
		if err := fs.vacuum(); err != nil {
			return fs.fail(ErrFull)
		}
		at = pos{}
		_, ok, err = fs.findChunk(TypeEmpty, 0, 0, 0, &at)
		if err != nil {
			return fs.fail(err)
		}
		if !ok {
			// should be impossible right after a successful vacuum
			return fs.fail(ErrFull)
		}
	}
	return fs.writeChunk(at.block, at.chunk, ch)
}

// delChunk turns the chunk at (b, c) into a Deleted record by programming
// all-zeroes over it. Clearing every bit is always a legal program
// operation, whatever the slot held.
func (fs *Filesystem) delChunk(b, c int) error {
	return fs.writeChunk(b, c, &deletedChunk)
}

// oidInUse reports whether a live inode carries oid.
func (fs *Filesystem) oidInUse(oid uint32) (bool, error) {
	var at pos
	_, ok, err := fs.findChunk(TypeInode, oid, 0, 0, &at)
	return ok, err
}

// newOID picks an identifier for a fresh inode: one past the highest live
// OID. When the 32-bit space wraps, it falls back to scanning upward from
// 2 for a free value. OIDs 0 and 1 are reserved.
func (fs *Filesystem) newOID() (uint32, error) {
	var max uint32
	for b := 0; b < fs.nblocks; b++ {
		if b == fs.resv {
			continue
		}
		for c := 0; c < ChunksPerBlock; c++ {
			ch, err := fs.readChunk(b, c)
			if err != nil {
				return 0, err
			}
			if ch.Type() == TypeInode && ch.inodeOID() > max {
				max = ch.inodeOID()
			}
		}
	}
	if max < 2 {
		return 2, nil
	}
	if max != ^uint32(0) {
		return max + 1, nil
	}
	for oid := uint32(2); oid != 0; oid++ {
		used, err := fs.oidInUse(oid)
		if err != nil {
			return 0, err
		}
		if !used {
			return oid, nil
		}
	}
	return 0, ErrFull
}
