package encoding

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"

	"hcert/internal/certificate/certerr"
)

const drainBufferSize = 1024

// Inflate decompresses a zlib stream by draining the decompressor through a fixed
// buffer until the stream is exhausted. Payloads that are already a COSE message are
// returned unchanged.
func Inflate(data []byte) ([]byte, error) {
	if looksLikeCOSE(data) {
		return data, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, certerr.New(certerr.KindDecompression, "open stream", err)
	}
	defer zr.Close()

	var out bytes.Buffer
	buf := make([]byte, drainBufferSize)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, certerr.New(certerr.KindDecompression, "read stream", err)
		}
	}
	return out.Bytes(), nil
}

// Deflate compresses data with zlib at the best compression level.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// looksLikeCOSE reports whether data starts with the COSE_Sign1 tag or a four
// element array header.
func looksLikeCOSE(data []byte) bool {
	return len(data) > 0 && (data[0] == 0xD2 || data[0] == 0x84)
}
