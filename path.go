package stfs

import "strings"

// normalizePath trims a single trailing slash so that directory paths may
// be written either way. "/" and "" both denote the root.
func normalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return path[:len(path)-1]
	}
	if path == "/" {
		return ""
	}
	return path
}

// oidByPath walks an absolute path segment by segment and returns the OID
// of the object it names, along with the location of its inode chunk. The
// empty path is the (virtual) root; at is not meaningful in that case.
func (fs *Filesystem) oidByPath(path string, at *pos) (uint32, error) {
	if path == "" {
		return RootOID, nil
	}
	if path[0] != '/' {
		return 0, fs.fail(ErrRelPath)
	}

	parent := uint32(RootOID)
	rest := path[1:]
	for {
		seg := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seg, rest = rest[:i], rest[i+1:]
		} else {
			rest = ""
		}
		if len(seg) == 0 || len(seg) > MaxName {
			return 0, fs.fail(ErrNameSize)
		}
		ch, ok, err := fs.findInodeByParentName(parent, []byte(seg), at)
		if err != nil {
			return 0, fs.fail(err)
		}
		if !ok {
			return 0, fs.fail(ErrNotFound)
		}
		if rest == "" {
			return ch.inodeOID(), nil
		}
		parent = ch.inodeOID()
	}
}

// resolve normalizes path and resolves it to (oid, inode location).
func (fs *Filesystem) resolve(path string) (uint32, pos, error) {
	var at pos
	oid, err := fs.oidByPath(normalizePath(path), &at)
	return oid, at, err
}

// splitPath separates an absolute path into its parent directory path and
// final name component: "/a/b/c" -> ("/a/b", "c"), "/top" -> ("", "top").
// A path without a slash has no name to create and is rejected as
// relative.
func splitPath(path string) (dir, name string, err error) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", "", ErrRelPath
	}
	return path[:i], path[i+1:], nil
}
