package stfs_test

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/KarpelesLab/stfs"
)

// newFS mounts a fresh 5 block in-RAM filesystem with deterministic
// randomness.
func newFS(t *testing.T) *stfs.Filesystem {
	t.Helper()
	fs, err := stfs.New(stfs.NewMemDevice(5), stfs.WithRandom(rand.New(rand.NewSource(1))))
	if err != nil {
		t.Fatalf("failed to mount: %s", err)
	}
	return fs
}

// pattern returns n bytes of the deterministic i mod 256 fill.
func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

func writeFile(t *testing.T, fs *stfs.Filesystem, path string, data []byte) {
	t.Helper()
	f, err := fs.Open(path, stfs.Create)
	if err != nil {
		t.Fatalf("create %s: %s", path, err)
	}
	if n, err := f.Write(data); err != nil || n != len(data) {
		t.Fatalf("write %s: n=%d err=%s", path, n, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %s", path, err)
	}
}

func readFile(t *testing.T, fs *stfs.Filesystem, path string, n int) []byte {
	t.Helper()
	f, err := fs.Open(path, 0)
	if err != nil {
		t.Fatalf("open %s: %s", path, err)
	}
	defer f.Close()
	buf := make([]byte, n)
	got, err := f.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("read %s: %s", path, err)
	}
	return buf[:got]
}

func TestMkdirReaddir(t *testing.T) {
	fs := newFS(t)

	if err := fs.Mkdir("/a"); err != nil {
		t.Fatalf("mkdir /a: %s", err)
	}
	if err := fs.Mkdir("/a/b"); err != nil {
		t.Fatalf("mkdir /a/b: %s", err)
	}

	d, err := fs.OpenDir("/a")
	if err != nil {
		t.Fatalf("opendir /a: %s", err)
	}
	ino, err := d.Next()
	if err != nil {
		t.Fatalf("readdir /a: %s", err)
	}
	if ino.Name != "b" || !ino.Kind.IsDir() {
		t.Errorf("readdir /a: got %q kind=%s, want \"b\" Directory", ino.Name, ino.Kind)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("readdir /a: expected EOF, got %v", err)
	}
}

func TestMkdirErrors(t *testing.T) {
	fs := newFS(t)

	if err := fs.Mkdir("/a"); err != nil {
		t.Fatalf("mkdir /a: %s", err)
	}
	if err := fs.Mkdir("/a"); !errors.Is(err, stfs.ErrExists) {
		t.Errorf("mkdir /a again: got %v, want ErrExists", err)
	}
	if !errors.Is(fs.LastError(), stfs.ErrExists) {
		t.Errorf("LastError: got %v, want ErrExists", fs.LastError())
	}
	if err := fs.Mkdir("/missing/sub"); !errors.Is(err, stfs.ErrNotFound) {
		t.Errorf("mkdir /missing/sub: got %v, want ErrNotFound", err)
	}
	if err := fs.Mkdir("relative"); !errors.Is(err, stfs.ErrInvalidName) {
		t.Errorf("mkdir relative: got %v, want ErrInvalidName", err)
	}
	if err := fs.Mkdir("/a/."); !errors.Is(err, stfs.ErrInvalidName) {
		t.Errorf("mkdir /a/.: got %v, want ErrInvalidName", err)
	}
	long := "/" + string(bytes.Repeat([]byte{'x'}, stfs.MaxName+1))
	if err := fs.Mkdir(long); !errors.Is(err, stfs.ErrNameSize) {
		t.Errorf("mkdir 33-byte name: got %v, want ErrNameSize", err)
	}
}

func TestRmdir(t *testing.T) {
	fs := newFS(t)

	if err := fs.Mkdir("/a"); err != nil {
		t.Fatalf("mkdir /a: %s", err)
	}
	if err := fs.Mkdir("/a/b"); err != nil {
		t.Fatalf("mkdir /a/b: %s", err)
	}

	if err := fs.Rmdir("/a"); err == nil {
		t.Error("rmdir of non-empty directory succeeded")
	}
	// the failed rmdir must not have modified anything
	if _, err := fs.OpenDir("/a/b"); err != nil {
		t.Errorf("opendir /a/b after failed rmdir: %s", err)
	}

	if err := fs.Rmdir("/"); !errors.Is(err, stfs.ErrDelRoot) {
		t.Errorf("rmdir /: got %v, want ErrDelRoot", err)
	}

	if err := fs.Rmdir("/a/b"); err != nil {
		t.Errorf("rmdir /a/b: %s", err)
	}
	if err := fs.Rmdir("/a/"); err != nil {
		t.Errorf("rmdir /a/ (trailing slash): %s", err)
	}
	if _, err := fs.OpenDir("/a"); !errors.Is(err, stfs.ErrNotFound) {
		t.Errorf("opendir /a after rmdir: got %v, want ErrNotFound", err)
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	fs := newFS(t)

	want := pattern(256)
	writeFile(t, fs, "/t", want)

	if got := readFile(t, fs, "/t", 256); !bytes.Equal(got, want) {
		t.Errorf("read back 256 bytes differ")
	}
}

func TestByteAtATimeWrite(t *testing.T) {
	fs := newFS(t)

	want := pattern(256)
	f, err := fs.Open("/t", stfs.Create)
	if err != nil {
		t.Fatalf("create /t: %s", err)
	}
	for i := 0; i < len(want); i++ {
		if n, err := f.Write(want[i : i+1]); err != nil || n != 1 {
			t.Fatalf("write byte %d: n=%d err=%s", i, n, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	if got := readFile(t, fs, "/t", 256); !bytes.Equal(got, want) {
		t.Errorf("byte-at-a-time file differs from bulk content")
	}
}

func TestHugeFile(t *testing.T) {
	fs := newFS(t)

	content := pattern(stfs.MaxFileSize)
	f, err := fs.Open("/huge.bin", stfs.Create)
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	for off := 0; off < len(content); off += 256 {
		end := off + 256
		if end > len(content) {
			end = len(content)
		}
		if n, err := f.Write(content[off:end]); err != nil || n != end-off {
			t.Fatalf("write at %d: n=%d err=%s", off, n, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	f, err = fs.Open("/huge.bin", 0)
	if err != nil {
		t.Fatalf("reopen: %s", err)
	}
	defer f.Close()
	if size, _ := f.Size(); size != stfs.MaxFileSize {
		t.Fatalf("size after reopen: %d", size)
	}
	var got []byte
	buf := make([]byte, 256)
	for {
		n, err := f.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %s", err)
		}
	}
	if len(got) != stfs.MaxFileSize {
		t.Fatalf("read %d bytes total, want %d", len(got), stfs.MaxFileSize)
	}
	if !bytes.Equal(got, content) {
		t.Error("content mismatch")
	}
}

func TestWriteClampedAtMaxFileSize(t *testing.T) {
	fs := newFS(t)

	f, err := fs.Open("/t", stfs.Create)
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	defer f.Close()

	big := make([]byte, stfs.MaxFileSize+1)
	n, err := f.Write(big)
	if !errors.Is(err, stfs.ErrTooBig) {
		t.Fatalf("oversized write: err=%v, want ErrTooBig", err)
	}
	if n != stfs.MaxFileSize {
		t.Fatalf("oversized write stored %d bytes, want %d", n, stfs.MaxFileSize)
	}
	if n, err := f.Write([]byte{0}); !errors.Is(err, stfs.ErrTooBig) || n != 0 {
		t.Errorf("write at limit: n=%d err=%v, want 0, ErrTooBig", n, err)
	}
}

func TestAppendAfterSeekEnd(t *testing.T) {
	fs := newFS(t)
	writeFile(t, fs, "/t", pattern(100))

	f, err := fs.Open("/t", 0)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	if off, err := f.Seek(0, io.SeekEnd); err != nil || off != 100 {
		t.Fatalf("seek end: off=%d err=%s", off, err)
	}
	if _, err := f.Write(pattern(50)); err != nil {
		t.Fatalf("append: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	got := readFile(t, fs, "/t", 150)
	want := append(pattern(100), pattern(50)...)
	if !bytes.Equal(got, want) {
		t.Error("appended content mismatch")
	}
}

func TestSeekErrors(t *testing.T) {
	fs := newFS(t)
	writeFile(t, fs, "/t", pattern(10))

	f, err := fs.Open("/t", 0)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	defer f.Close()

	if _, err := f.Seek(11, io.SeekStart); !errors.Is(err, stfs.ErrSeekEOF) {
		t.Errorf("seek beyond eof: got %v, want ErrSeekEOF", err)
	}
	if _, err := f.Seek(-1, io.SeekStart); !errors.Is(err, stfs.ErrSeekSOF) {
		t.Errorf("seek before sof: got %v, want ErrSeekSOF", err)
	}
	if off, err := f.Seek(-4, io.SeekEnd); err != nil || off != 6 {
		t.Errorf("seek -4 from end: off=%d err=%v", off, err)
	}
	if off, err := f.Seek(2, io.SeekCurrent); err != nil || off != 8 {
		t.Errorf("seek +2: off=%d err=%v", off, err)
	}
}

func TestOverwrite(t *testing.T) {
	fs := newFS(t)
	writeFile(t, fs, "/t", pattern(400))

	f, err := fs.Open("/t", 0)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	if _, err := f.Seek(100, io.SeekStart); err != nil {
		t.Fatalf("seek: %s", err)
	}
	repl := bytes.Repeat([]byte{0xAB}, 200)
	if n, err := f.Write(repl); err != nil || n != 200 {
		t.Fatalf("overwrite: n=%d err=%s", n, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	want := pattern(400)
	copy(want[100:], repl)
	if got := readFile(t, fs, "/t", 400); !bytes.Equal(got, want) {
		t.Error("overwritten content mismatch")
	}
}

func TestTruncate(t *testing.T) {
	fs := newFS(t)
	writeFile(t, fs, "/t", pattern(256))

	if err := fs.Truncate("/t", 16); err != nil {
		t.Fatalf("truncate: %s", err)
	}
	got := readFile(t, fs, "/t", 256)
	if len(got) != 16 {
		t.Fatalf("read after truncate returned %d bytes, want 16", len(got))
	}
	if !bytes.Equal(got, pattern(16)) {
		t.Error("truncated file lost its prefix")
	}

	if err := fs.Truncate("/t", 17); !errors.Is(err, stfs.ErrNoExt) {
		t.Errorf("growing truncate: got %v, want ErrNoExt", err)
	}
	if err := fs.Truncate("/t", 0); err != nil {
		t.Fatalf("truncate to 0: %s", err)
	}
	if got := readFile(t, fs, "/t", 16); len(got) != 0 {
		t.Errorf("read after truncate to 0 returned %d bytes", len(got))
	}
}

func TestTruncateChunkBoundary(t *testing.T) {
	fs := newFS(t)
	writeFile(t, fs, "/t", pattern(stfs.DataPerChunk*3))

	// exactly two chunks must remain
	if err := fs.Truncate("/t", stfs.DataPerChunk*2); err != nil {
		t.Fatalf("truncate: %s", err)
	}
	got := readFile(t, fs, "/t", stfs.DataPerChunk*3)
	if len(got) != stfs.DataPerChunk*2 {
		t.Fatalf("got %d bytes, want %d", len(got), stfs.DataPerChunk*2)
	}
	if !bytes.Equal(got, pattern(stfs.DataPerChunk*2)) {
		t.Error("content mismatch after boundary truncate")
	}
}

func TestUnlink(t *testing.T) {
	fs := newFS(t)
	writeFile(t, fs, "/t", pattern(300))

	if err := fs.Unlink("/t"); err != nil {
		t.Fatalf("unlink: %s", err)
	}
	if _, err := fs.Open("/t", 0); !errors.Is(err, stfs.ErrNotFound) {
		t.Errorf("open after unlink: got %v, want ErrNotFound", err)
	}
	if err := fs.Unlink("/t"); !errors.Is(err, stfs.ErrNotFound) {
		t.Errorf("unlink again: got %v, want ErrNotFound", err)
	}

	if err := fs.Mkdir("/d"); err != nil {
		t.Fatalf("mkdir: %s", err)
	}
	if err := fs.Unlink("/d"); !errors.Is(err, stfs.ErrOpen) {
		t.Errorf("unlink directory: got %v, want ErrOpen", err)
	}
}

func TestOpenErrors(t *testing.T) {
	fs := newFS(t)

	if err := fs.Mkdir("/d"); err != nil {
		t.Fatalf("mkdir: %s", err)
	}
	if _, err := fs.Open("/d", 0); !errors.Is(err, stfs.ErrOpen) {
		t.Errorf("open directory: got %v, want ErrOpen", err)
	}
	if _, err := fs.Open("/", 0); !errors.Is(err, stfs.ErrOpen) {
		t.Errorf("open root: got %v, want ErrOpen", err)
	}
	if _, err := fs.Open("/missing", 0); !errors.Is(err, stfs.ErrNotFound) {
		t.Errorf("open missing: got %v, want ErrNotFound", err)
	}
	writeFile(t, fs, "/f", nil)
	if _, err := fs.Open("/f", stfs.Create); !errors.Is(err, stfs.ErrExists) {
		t.Errorf("create over existing: got %v, want ErrExists", err)
	}
}

func TestCreateReopen(t *testing.T) {
	fs := newFS(t)

	f, err := fs.Open("/t", stfs.Create)
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	defer f.Close()

	if _, err := fs.Open("/t", stfs.Create); !errors.Is(err, stfs.ErrReopen) {
		t.Errorf("second create: got %v, want ErrReopen", err)
	}

	// a plain descriptor on an existing file does not count as a pending
	// creation; the existence check wins there
	writeFile(t, fs, "/u", nil)
	g, err := fs.Open("/u", 0)
	if err != nil {
		t.Fatalf("open /u: %s", err)
	}
	defer g.Close()
	if _, err := fs.Open("/u", stfs.Create); !errors.Is(err, stfs.ErrExists) {
		t.Errorf("create over open file: got %v, want ErrExists", err)
	}
}

func TestOpenFileTableExhaustion(t *testing.T) {
	fs := newFS(t)

	files := make([]*stfs.File, 0, stfs.MaxOpenFiles)
	for i := 0; i < stfs.MaxOpenFiles; i++ {
		f, err := fs.Open("/f"+string(rune('0'+i)), stfs.Create)
		if err != nil {
			t.Fatalf("create %d: %s", i, err)
		}
		files = append(files, f)
	}
	if _, err := fs.Open("/overflow", stfs.Create); !errors.Is(err, stfs.ErrNoFds) {
		t.Errorf("fifth open: got %v, want ErrNoFds", err)
	}
	for _, f := range files {
		if err := f.Close(); err != nil {
			t.Errorf("close %s: %s", f.Name(), err)
		}
	}
	f, err := fs.Open("/overflow", stfs.Create)
	if err != nil {
		t.Fatalf("open after closing: %s", err)
	}
	f.Close()
}

func TestCloseReconcilesSize(t *testing.T) {
	fs := newFS(t)
	writeFile(t, fs, "/t", pattern(10))

	f, err := fs.Open("/t", 0)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		t.Fatalf("seek: %s", err)
	}
	if _, err := f.Write(pattern(10)); err != nil {
		t.Fatalf("write: %s", err)
	}

	// size through a second descriptor still shows the old inode
	g, err := fs.Open("/t", 0)
	if err != nil {
		t.Fatalf("second open: %s", err)
	}
	if size, _ := g.Size(); size != 10 {
		t.Errorf("size before close: %d, want 10", size)
	}
	g.Close()

	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}
	g, err = fs.Open("/t", 0)
	if err != nil {
		t.Fatalf("reopen: %s", err)
	}
	defer g.Close()
	if size, _ := g.Size(); size != 20 {
		t.Errorf("size after close: %d, want 20", size)
	}
}

func TestCloseAfterUnlinkReapsData(t *testing.T) {
	fs := newFS(t)

	f, err := fs.Open("/t", stfs.Create)
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	if _, err := f.Write(pattern(300)); err != nil {
		t.Fatalf("write: %s", err)
	}
	if err := fs.Unlink("/t"); err != nil {
		t.Fatalf("unlink while open: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close after unlink: %s", err)
	}
	if _, err := fs.Open("/t", 0); !errors.Is(err, stfs.ErrNotFound) {
		t.Errorf("file came back after close: %v", err)
	}
}

func TestCloseDanglingPath(t *testing.T) {
	fs := newFS(t)

	if err := fs.Mkdir("/d"); err != nil {
		t.Fatalf("mkdir: %s", err)
	}
	f, err := fs.Open("/d/f", stfs.Create)
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	if _, err := f.Write(pattern(10)); err != nil {
		t.Fatalf("write: %s", err)
	}
	if err := fs.Unlink("/d/f"); err != nil {
		t.Fatalf("unlink: %s", err)
	}
	if err := fs.Rmdir("/d"); err != nil {
		t.Fatalf("rmdir: %s", err)
	}
	if err := f.Close(); !errors.Is(err, stfs.ErrDangling) {
		t.Errorf("close with severed path: got %v, want ErrDangling", err)
	}
	// the descriptor slot must be free again
	g, err := fs.Open("/t", stfs.Create)
	if err != nil {
		t.Fatalf("open after dangling close: %s", err)
	}
	g.Close()
}

func TestUseAfterClose(t *testing.T) {
	fs := newFS(t)

	f, err := fs.Open("/t", stfs.Create)
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, stfs.ErrNotOpen) {
		t.Errorf("read after close: got %v, want ErrNotOpen", err)
	}
	if _, err := f.Write([]byte{1}); !errors.Is(err, stfs.ErrNotOpen) {
		t.Errorf("write after close: got %v, want ErrNotOpen", err)
	}
	if err := f.Close(); !errors.Is(err, stfs.ErrNotOpen) {
		t.Errorf("double close: got %v, want ErrNotOpen", err)
	}
}
