package stfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression identifies the codec an image snapshot was written with.
type Compression uint16

const (
	NoCompression Compression = 0
	ZSTD          Compression = 1
	XZ            Compression = 2
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZSTD:
		return "ZSTD"
	case XZ:
		return "XZ"
	}
	return fmt.Sprintf("Compression(%d)", uint16(c))
}

// CompHandler implements one snapshot codec.
type CompHandler struct {
	Compress   func(buf []byte) ([]byte, error)
	Decompress func(buf []byte) ([]byte, error)
}

var compHandlers = map[Compression]*CompHandler{
	NoCompression: {
		Compress:   func(buf []byte) ([]byte, error) { return buf, nil },
		Decompress: func(buf []byte) ([]byte, error) { return buf, nil },
	},
}

// RegisterCompHandler makes a codec available for WriteImage/ReadImage,
// replacing any previous handler for c.
func RegisterCompHandler(c Compression, h *CompHandler) {
	compHandlers[c] = h
}

func compHandler(c Compression) (*CompHandler, error) {
	h, ok := compHandlers[c]
	if !ok {
		return nil, fmt.Errorf("stfs: no handler for compression %s", c)
	}
	return h, nil
}

func zstdCompress(buf []byte) ([]byte, error) {
	w, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	out := w.EncodeAll(buf, nil)
	w.Close()
	return out, nil
}

func zstdDecompress(buf []byte) ([]byte, error) {
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.DecodeAll(buf, nil)
}

func xzCompress(buf []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := xz.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(buf); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func xzDecompress(buf []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func init() {
	RegisterCompHandler(ZSTD, &CompHandler{Compress: zstdCompress, Decompress: zstdDecompress})
	RegisterCompHandler(XZ, &CompHandler{Compress: xzCompress, Decompress: xzDecompress})
}
