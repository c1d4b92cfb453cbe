package blockstream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// XZCompress is the dbiface.CompressTool backing the "xz" algorithm: a
// streaming LZMA2 codec, the same library JuniperBible's capsule packer
// uses for its archive blobs. Compress/Expand adapt xz's io.Writer/io.Reader
// shape to the byte-slice contract record.go's framing needs.
type XZCompress struct{}

func (XZCompress) Compress(src []byte, algorithm string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("blockstream: xz writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("blockstream: xz write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("blockstream: xz close: %w", err)
	}
	return buf.Bytes(), nil
}

func (XZCompress) Expand(src []byte, dst []byte, off int) (int, error) {
	r, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, fmt.Errorf("blockstream: xz reader: %w", err)
	}
	n, err := io.ReadFull(r, dst[off:])
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, fmt.Errorf("blockstream: xz expand: %w", err)
	}
	return n, nil
}
