package stfs

import (
	"encoding/binary"
	"fmt"
)

// Geometry of the flash array. A block is the erase unit, a chunk the
// program/allocation unit. These match the on-flash format and cannot be
// changed without reformatting.
const (
	ChunkSize      = 128
	ChunksPerBlock = 1024
	BlockSize      = ChunkSize * ChunksPerBlock

	// DataPerChunk is the payload capacity of a data chunk: the chunk
	// minus its 7 byte header (tag, seq, oid).
	DataPerChunk = ChunkSize - 7

	MaxFileSize  = 65535
	MaxOpenFiles = 4
	MaxName      = 32
)

// ChunkType is the first byte of every chunk record.
type ChunkType uint8

const (
	TypeDeleted ChunkType = 0x00
	TypeInode   ChunkType = 0xAA
	TypeData    ChunkType = 0xCC
	TypeEmpty   ChunkType = 0xFF
)

func (t ChunkType) String() string {
	switch t {
	case TypeDeleted:
		return "Deleted"
	case TypeInode:
		return "Inode"
	case TypeData:
		return "Data"
	case TypeEmpty:
		return "Empty"
	}
	return fmt.Sprintf("ChunkType(0x%02x)", uint8(t))
}

// Kind distinguishes directory inodes from file inodes.
type Kind uint8

const (
	KindDirectory Kind = 0
	KindFile      Kind = 1
)

func (k Kind) IsDir() bool { return k == KindDirectory }

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "Directory"
	case KindFile:
		return "File"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Inode chunk layout, all multi-byte fields little-endian:
//
//	[0]      type tag 0xAA
//	[1]      bit 0: kind, bits 1..6: name length, bit 7: padding
//	[2:4]    size (bytes; directories carry 0)
//	[4:8]    parent OID
//	[8:12]   self OID
//	[12:44]  name (unused tail carries the record's fill byte)
//	[44:128] embedded slack (fill byte)
//
// Data chunk layout:
//
//	[0]      type tag 0xCC
//	[1:3]    seq
//	[3:7]    owning OID
//	[7:128]  payload
const (
	inoOffFlags  = 1
	inoOffSize   = 2
	inoOffParent = 4
	inoOffOID    = 8
	inoOffName   = 12

	datOffSeq     = 1
	datOffOID     = 3
	datOffPayload = 7

	// SeqAny is the sentinel seq value matching any data chunk of an OID.
	SeqAny = 0xFFFF
)

// Chunk is one raw on-flash record.
type Chunk [ChunkSize]byte

// Type returns the record's type tag. Anything that is not a known tag is
// reported verbatim; callers compare against the Type* constants.
func (c *Chunk) Type() ChunkType { return ChunkType(c[0]) }

// Inode is the decoded view of an inode chunk. Name aliases nothing; it is
// a copy of the on-flash bytes.
type Inode struct {
	Kind   Kind
	Size   uint16
	Parent uint32
	OID    uint32
	Name   string
}

func (i *Inode) IsDir() bool { return i.Kind.IsDir() }

// nameBytes returns the live name region of an inode chunk, or nil if the
// stored length is out of range.
func (c *Chunk) nameBytes() []byte {
	n := int(c[inoOffFlags] >> 1 & 0x3F)
	if n < 1 || n > MaxName {
		return nil
	}
	return c[inoOffName : inoOffName+n]
}

func (c *Chunk) inodeKind() Kind     { return Kind(c[inoOffFlags] & 1) }
func (c *Chunk) inodeSize() uint16   { return binary.LittleEndian.Uint16(c[inoOffSize:]) }
func (c *Chunk) inodeParent() uint32 { return binary.LittleEndian.Uint32(c[inoOffParent:]) }
func (c *Chunk) inodeOID() uint32    { return binary.LittleEndian.Uint32(c[inoOffOID:]) }

func (c *Chunk) setInodeSize(size uint16) {
	binary.LittleEndian.PutUint16(c[inoOffSize:], size)
}

// ParseInode decodes an inode chunk. It fails on a wrong type tag or a name
// length outside 1..32.
func (c *Chunk) ParseInode() (*Inode, error) {
	if c.Type() != TypeInode {
		return nil, ErrBadChunk
	}
	name := c.nameBytes()
	if name == nil {
		return nil, ErrBadChunk
	}
	return &Inode{
		Kind:   c.inodeKind(),
		Size:   c.inodeSize(),
		Parent: c.inodeParent(),
		OID:    c.inodeOID(),
		Name:   string(name),
	}, nil
}

func (c *Chunk) dataSeq() uint16 { return binary.LittleEndian.Uint16(c[datOffSeq:]) }
func (c *Chunk) dataOID() uint32 { return binary.LittleEndian.Uint32(c[datOffOID:]) }
func (c *Chunk) payload() []byte { return c[datOffPayload:] }

// packInode builds an inode chunk. fill sets the unused name tail and the
// embedded slack: directory inodes are zero-filled, file inodes created at
// open time are 0xFF-filled (what erased flash leaves behind). The fill
// also supplies the padding bit of the flag byte.
func packInode(kind Kind, size uint16, parent, oid uint32, name []byte, fill byte) Chunk {
	var c Chunk
	for i := range c {
		c[i] = fill
	}
	c[0] = byte(TypeInode)
	c[inoOffFlags] = byte(kind)&1 | byte(len(name))<<1 | fill&0x80
	binary.LittleEndian.PutUint16(c[inoOffSize:], size)
	binary.LittleEndian.PutUint32(c[inoOffParent:], parent)
	binary.LittleEndian.PutUint32(c[inoOffOID:], oid)
	copy(c[inoOffName:], name)
	return c
}

// packData builds a data chunk holding p at intra-chunk offset off. The
// rest of the payload is left 0xFF so a later in-place append can program
// it without superseding the chunk.
func packData(oid uint32, seq uint16, off int, p []byte) Chunk {
	var c Chunk
	for i := range c {
		c[i] = 0xFF
	}
	c[0] = byte(TypeData)
	binary.LittleEndian.PutUint16(c[datOffSeq:], seq)
	binary.LittleEndian.PutUint32(c[datOffOID:], oid)
	copy(c[datOffPayload+off:], p)
	return c
}

var deletedChunk Chunk // all zeroes, type tag included

// bitSubset reports whether b can be programmed over a in place, i.e.
// every byte of b only clears bits of a. NOR flash programming can turn 1
// bits into 0 but never back; comparing for plain inequality instead would
// produce images that read back wrong on real hardware.
func bitSubset(a, b *Chunk) bool {
	for i := range a {
		if a[i]&b[i] != b[i] {
			return false
		}
	}
	return true
}
