package stfs

import "io"

// createObject validates path for object creation and returns the parent
// OID and name of the object to create. The parent directory must exist
// and must not already have a child of that name.
func (fs *Filesystem) createObject(path string) (uint32, string, error) {
	dir, name, err := splitPath(path)
	if err != nil {
		return 0, "", fs.fail(ErrInvalidName)
	}
	if name == "" || name == "." || name == ".." {
		return 0, "", fs.fail(ErrInvalidName)
	}

	var at pos
	parent, err := fs.oidByPath(dir, &at)
	if err != nil {
		return 0, "", fs.fail(ErrNotFound)
	}

	d := &Dir{fs: fs, oid: parent}
	for {
		ino, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, "", fs.fail(err)
		}
		if ino.Name == name {
			return 0, "", fs.fail(ErrExists)
		}
	}

	if len(name) > MaxName {
		return 0, "", fs.fail(ErrNameSize)
	}
	return parent, name, nil
}

// Mkdir creates the directory named by the absolute path. The parent
// directory must already exist.
func (fs *Filesystem) Mkdir(path string) error {
	oid, err := fs.newOID()
	if err != nil {
		return fs.fail(err)
	}
	parent, name, err := fs.createObject(normalizePath(path))
	if err != nil {
		return err
	}
	ch := packInode(KindDirectory, 0, parent, oid, []byte(name), 0x00)
	return fs.storeChunk(&ch)
}

// Rmdir removes an empty directory. The root directory cannot be removed.
func (fs *Filesystem) Rmdir(path string) error {
	oid, at, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if oid == RootOID {
		return fs.fail(ErrDelRoot)
	}
	ch, err := fs.readChunk(at.block, at.chunk)
	if err != nil {
		return fs.fail(err)
	}
	if ch.Type() == TypeInode && !ch.inodeKind().IsDir() {
		return fs.fail(ErrWrongObj)
	}

	d := &Dir{fs: fs, oid: oid}
	if _, err := d.Next(); err != io.EOF {
		if err != nil {
			return fs.fail(err)
		}
		return fs.fail(ErrExists)
	}

	return fs.delChunk(at.block, at.chunk)
}

// Dir iterates the children of one directory. Iteration order follows the
// physical chunk layout, not the names.
type Dir struct {
	fs  *Filesystem
	oid uint32
	at  pos
}

// OpenDir resolves path to a directory and returns an iterator positioned
// at its first entry.
func (fs *Filesystem) OpenDir(path string) (*Dir, error) {
	oid, _, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	return &Dir{fs: fs, oid: oid}, nil
}

// Next returns the next child inode, or io.EOF when the directory is
// exhausted.
func (d *Dir) Next() (*Inode, error) {
	ch, ok, err := d.fs.findChunk(TypeInode, 0, d.oid, 0, &d.at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	if d.at.chunk+1 >= ChunksPerBlock {
		d.at.block++
		d.at.chunk = 0
	} else {
		d.at.chunk++
	}
	return ch.ParseInode()
}
