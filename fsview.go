package stfs

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// FS returns a read-only io/fs view of the mounted filesystem, so the
// standard helpers (fs.ReadFile, fs.ReadDir, fs.Glob, fs.WalkDir) work
// against an image. The view bypasses the open-file table; it reads
// whatever is on flash at call time.
func (fsys *Filesystem) FS() fs.FS {
	return &viewFS{fsys}
}

type viewFS struct {
	fs *Filesystem
}

// Ensure the view respects fs.FS & friends
var _ fs.FS = (*viewFS)(nil)
var _ fs.ReadDirFile = (*viewDir)(nil)
var _ fs.File = (*viewFile)(nil)
var _ io.ReaderAt = (*viewFile)(nil)
var _ fs.FileInfo = (*fileinfo)(nil)
var _ fs.DirEntry = (*fileinfo)(nil)

// absPath converts an io/fs rooted name ("." or "a/b") to the absolute
// path the resolver speaks.
func absPath(name string) string {
	if name == "." {
		return ""
	}
	return "/" + name
}

func (v *viewFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	oid, at, err := v.fs.resolve(absPath(name))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if oid == RootOID {
		return &viewDir{fs: v.fs, name: name, ino: &Inode{Kind: KindDirectory, OID: RootOID}}, nil
	}
	ch, err := v.fs.readChunk(at.block, at.chunk)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	ino, err := ch.ParseInode()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if ino.IsDir() {
		return &viewDir{fs: v.fs, name: name, ino: ino}, nil
	}
	return &viewFile{fs: v.fs, name: name, ino: ino}, nil
}

// viewFile is a read-only file handle over an inode snapshot.
type viewFile struct {
	fs   *Filesystem
	name string
	ino  *Inode
	off  int64
}

func (f *viewFile) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: path.Base(f.name), ino: f.ino}, nil
}

func (f *viewFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.off)
	f.off += int64(n)
	return n, err
}

func (f *viewFile) ReadAt(p []byte, off int64) (int, error) {
	size := int64(f.ino.Size)
	if off < 0 {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrInvalid}
	}
	if off >= size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > size {
		p = p[:size-off]
	}
	n, err := f.fs.readRange(f.ino.OID, uint32(off), p)
	return int(n), err
}

func (f *viewFile) Close() error { return nil }

// Sys returns the *Inode backing this file
func (f *viewFile) Sys() any { return f.ino }

// viewDir is a directory handle; Read on it is invalid.
type viewDir struct {
	fs   *Filesystem
	name string
	ino  *Inode
	d    *Dir
}

func (d *viewDir) Read(p []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *viewDir) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: path.Base(d.name), ino: d.ino}, nil
}

func (d *viewDir) Close() error {
	d.d = nil
	return nil
}

func (d *viewDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.d == nil {
		d.d = &Dir{fs: d.fs, oid: d.ino.OID}
	}
	var res []fs.DirEntry
	for {
		ino, err := d.d.Next()
		if err == io.EOF {
			if n > 0 && len(res) == 0 {
				return nil, io.EOF
			}
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res = append(res, &fileinfo{name: ino.Name, ino: ino})
		if n > 0 && len(res) >= n {
			return res, nil
		}
	}
}

// fileinfo implements both fs.FileInfo and fs.DirEntry over an Inode.
type fileinfo struct {
	name string
	ino  *Inode
}

func (fi *fileinfo) Name() string { return fi.name }

func (fi *fileinfo) Size() int64 { return int64(fi.ino.Size) }

func (fi *fileinfo) Mode() fs.FileMode {
	if fi.ino.IsDir() {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// ModTime returns the zero time: the on-flash format carries no
// timestamps.
func (fi *fileinfo) ModTime() time.Time { return time.Time{} }

func (fi *fileinfo) IsDir() bool { return fi.ino.IsDir() }

func (fi *fileinfo) Sys() any { return fi.ino }

// fs.DirEntry

func (fi *fileinfo) Type() fs.FileMode { return fi.Mode().Type() }

func (fi *fileinfo) Info() (fs.FileInfo, error) { return fi, nil }
