package stfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for
// error handling. Every failing operation also records its error on the
// filesystem handle; LastError() returns the most recent one.
var (
	// ErrNoFds is returned when all slots of the open-file table are in use
	ErrNoFds = errors.New("no free file descriptors")

	// ErrExists is returned when creating an object whose parent already has
	// a child of that name
	ErrExists = errors.New("object already exists")

	// ErrNotOpen is returned when using a file handle that has been closed
	ErrNotOpen = errors.New("file is not open")

	// ErrInvalidFd is returned for an out-of-range descriptor index
	ErrInvalidFd = errors.New("invalid file descriptor")

	// ErrInvalidFptr is returned when the file pointer points beyond the end
	// of file, which would create a hole
	ErrInvalidFptr = errors.New("file pointer beyond end of file")

	// ErrTooBig is returned when a write had to be clamped at MaxFileSize
	ErrTooBig = errors.New("write exceeds maximum file size")

	// ErrShortWrite names a write that stored fewer bytes than requested.
	// No operation returns it: Write reports a short write with the
	// allocator's error instead
	ErrShortWrite = errors.New("short write")

	// ErrSeekEOF is returned when seeking beyond the end of file; sparse
	// files are not supported
	ErrSeekEOF = errors.New("cannot seek beyond end of file")

	// ErrSeekSOF is returned when seeking before the start of file
	ErrSeekSOF = errors.New("cannot seek before start of file")

	// ErrNotFound is returned when a path component does not resolve
	ErrNotFound = errors.New("no such file or directory")

	// ErrWrongObj is returned when an operation meets an object of the
	// wrong kind
	ErrWrongObj = errors.New("wrong object type")

	// ErrNoChunk is returned when a data chunk that must exist cannot be
	// located; within a file's valid range this is an invariant violation
	ErrNoChunk = errors.New("data chunk not found")

	// ErrNoExt is returned when truncate is asked to grow a file
	ErrNoExt = errors.New("cannot extend file")

	// ErrRelPath is returned for paths that do not begin with a slash
	ErrRelPath = errors.New("path is not absolute")

	// ErrNameSize is returned for empty path segments or segments longer
	// than MaxName bytes
	ErrNameSize = errors.New("invalid name length")

	// ErrFull is returned when no Empty chunk can be found even after
	// vacuuming
	ErrFull = errors.New("filesystem is full")

	// ErrBadChunk is returned for a malformed chunk record
	ErrBadChunk = errors.New("bad chunk")

	// ErrVacuum is returned when no block qualifies as a vacuum donor, and
	// at mount time when no block can serve as the reserve
	ErrVacuum = errors.New("cannot vacuum")

	// ErrInvalidName is returned for the reserved names "." and ".." and
	// for paths without a name component
	ErrInvalidName = errors.New("invalid name")

	// ErrOpen is returned when opening, unlinking or truncating something
	// that is not a regular file
	ErrOpen = errors.New("not a file")

	// ErrDelRoot is returned when trying to remove the root directory
	ErrDelRoot = errors.New("cannot delete root directory")

	// ErrReopen is returned when a second descriptor creates the same
	// (parent, name) that another open descriptor already holds
	ErrReopen = errors.New("file is already open for creation")

	// ErrDangling is returned by Close when the file's directory path was
	// severed while the file was open; its data chunks are reaped
	ErrDangling = errors.New("path to file no longer exists")
)
