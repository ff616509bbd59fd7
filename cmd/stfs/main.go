package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"

	"github.com/KarpelesLab/stfs"
)

const usage = `stfs - STFS flash image tool

Usage:
  stfs mkfs <image> [<blocks>]         Create an empty image (default 5 blocks)
  stfs info <image>                    Show per-block chunk statistics
  stfs ls <image> [<path>]             List a directory (default root)
  stfs cat <image> <file>              Print the contents of a file
  stfs put <image> <src> <dst>         Copy a local file into the image
  stfs mkdir <image> <path>            Create a directory
  stfs rm <image> <path>               Remove a file
  stfs rmdir <image> <path>            Remove an empty directory
  stfs help                            Show this help message

Examples:
  stfs mkfs flash.stfs 6
  stfs mkdir flash.stfs /etc
  stfs put flash.stfs ./motd /etc/motd
  stfs ls flash.stfs /etc
  stfs cat flash.stfs /etc/motd
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "mkfs":
		err = mkfs(os.Args[2:])
	case "info":
		err = withImage(os.Args[2:], 0, func(fsys *stfs.Filesystem, _ []string) error {
			return info(fsys)
		})
	case "ls":
		err = withImage(os.Args[2:], 0, func(fsys *stfs.Filesystem, args []string) error {
			dir := "/"
			if len(args) > 0 {
				dir = args[0]
			}
			return list(fsys, dir)
		})
	case "cat":
		err = withImage(os.Args[2:], 1, func(fsys *stfs.Filesystem, args []string) error {
			return cat(fsys, args[0])
		})
	case "put":
		err = withImageSave(os.Args[2:], 2, func(fsys *stfs.Filesystem, args []string) error {
			return put(fsys, args[0], args[1])
		})
	case "mkdir":
		err = withImageSave(os.Args[2:], 1, func(fsys *stfs.Filesystem, args []string) error {
			return fsys.Mkdir(args[0])
		})
	case "rm":
		err = withImageSave(os.Args[2:], 1, func(fsys *stfs.Filesystem, args []string) error {
			return fsys.Unlink(args[0])
		})
	case "rmdir":
		err = withImageSave(os.Args[2:], 1, func(fsys *stfs.Filesystem, args []string) error {
			return fsys.Rmdir(args[0])
		})
	case "help":
		fmt.Println(usage)
	default:
		fmt.Printf("Error: Unknown command '%s'\n", cmd)
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// withImage mounts an image file and runs fn over it. The first argument
// is the image path; fn receives the rest and must get at least min of
// them.
func withImage(args []string, min int, fn func(*stfs.Filesystem, []string) error) error {
	if len(args) < 1+min {
		fmt.Println(usage)
		os.Exit(1)
	}
	dev, err := stfs.LoadImage(args[0])
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	fsys, err := stfs.New(dev)
	if err != nil {
		return fmt.Errorf("failed to mount image: %w", err)
	}
	defer fsys.Close()
	return fn(fsys, args[1:])
}

// withImageSave is withImage plus an atomic save of the mutated image.
func withImageSave(args []string, min int, fn func(*stfs.Filesystem, []string) error) error {
	if len(args) < 1+min {
		fmt.Println(usage)
		os.Exit(1)
	}
	dev, err := stfs.LoadImage(args[0])
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	fsys, err := stfs.New(dev)
	if err != nil {
		return fmt.Errorf("failed to mount image: %w", err)
	}
	defer fsys.Close()
	if err := fn(fsys, args[1:]); err != nil {
		return err
	}
	return fsys.SaveImage(args[0], stfs.ZSTD)
}

func mkfs(args []string) error {
	if len(args) < 1 {
		fmt.Println(usage)
		os.Exit(1)
	}
	blocks := 5
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 3 {
			return fmt.Errorf("invalid block count '%s' (minimum 3)", args[1])
		}
		blocks = n
	}
	dev := stfs.NewMemDevice(blocks)
	fsys, err := stfs.New(dev)
	if err != nil {
		return err
	}
	defer fsys.Close()
	return fsys.SaveImage(args[0], stfs.ZSTD)
}

func info(fsys *stfs.Filesystem) error {
	stats, err := fsys.BlockStats()
	if err != nil {
		return err
	}
	fmt.Printf("%5s %8s %8s %8s\n", "block", "empty", "live", "deleted")
	for b, s := range stats {
		mark := ""
		if s.Reserved {
			mark = " (reserved)"
		}
		fmt.Printf("%5d %8d %8d %8d%s\n", b, s.Empty, s.Live, s.Deleted, mark)
	}
	return nil
}

func list(fsys *stfs.Filesystem, dir string) error {
	d, err := fsys.OpenDir(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory '%s': %w", dir, err)
	}
	for {
		ino, err := d.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		typeChar := "-"
		size := fmt.Sprintf("%8d", ino.Size)
		if ino.Kind.IsDir() {
			typeChar = "d"
			size = "       -"
		}
		fmt.Printf("%s %s %s\n", typeChar, size, path.Join(dir, ino.Name))
	}
}

func cat(fsys *stfs.Filesystem, file string) error {
	data, err := fs.ReadFile(fsys.FS(), ioName(file))
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", file, err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func put(fsys *stfs.Filesystem, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if len(data) > stfs.MaxFileSize {
		return fmt.Errorf("'%s' is %d bytes, larger than the %d byte file limit", src, len(data), stfs.MaxFileSize)
	}
	f, err := fsys.Open(dst, stfs.Create)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", dst, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write '%s': %w", dst, err)
	}
	return f.Close()
}

// ioName converts an absolute stfs path to the rooted name io/fs wants.
func ioName(p string) string {
	if p == "/" || p == "" {
		return "."
	}
	if p[0] == '/' {
		return p[1:]
	}
	return p
}
