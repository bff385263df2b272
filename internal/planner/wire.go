package planner

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// Socket wire encoding. Requests carry big-endian int32 and float64
// values. Responses carry int32 values in the planner host's byte order
// (little-endian), big-endian float64 values and single-byte booleans.
// Strings are an int32 length followed by raw bytes.

// maxWireLen bounds any length prefix read from the wire.
const maxWireLen = 1 << 24

// maxPrealloc bounds how many elements a decoded length may reserve up
// front. Longer sequences grow as their bytes arrive.
const maxPrealloc = 1024

type wireWriter struct {
	w     *bufio.Writer
	order binary.ByteOrder
	err   error
	buf   [8]byte
}

func newWireWriter(w io.Writer, intOrder binary.ByteOrder) *wireWriter {
	return &wireWriter{w: bufio.NewWriter(w), order: intOrder}
}

func (ww *wireWriter) write(b []byte) {
	if ww.err != nil {
		return
	}
	_, ww.err = ww.w.Write(b)
}

func (ww *wireWriter) putInt(v int) {
	if ww.err == nil && (v > math.MaxInt32 || v < math.MinInt32) {
		ww.err = fmt.Errorf("value %d overflows int32", v)
		return
	}
	ww.order.PutUint32(ww.buf[:4], uint32(int32(v)))
	ww.write(ww.buf[:4])
}

func (ww *wireWriter) putFloat(v float64) {
	binary.BigEndian.PutUint64(ww.buf[:8], math.Float64bits(v))
	ww.write(ww.buf[:8])
}

func (ww *wireWriter) putFloats(vs []float64) {
	ww.putInt(len(vs))
	for _, v := range vs {
		ww.putFloat(v)
	}
}

func (ww *wireWriter) putString(s string) {
	ww.putInt(len(s))
	ww.write([]byte(s))
}

func (ww *wireWriter) putBool(v bool) {
	if v {
		ww.write([]byte{1})
	} else {
		ww.write([]byte{0})
	}
}

func (ww *wireWriter) flush() error {
	if ww.err != nil {
		return ww.err
	}
	return ww.w.Flush()
}

type wireReader struct {
	r     *bufio.Reader
	order binary.ByteOrder
	err   error
	buf   [8]byte
}

func newWireReader(r io.Reader, intOrder binary.ByteOrder) *wireReader {
	return &wireReader{r: bufio.NewReader(r), order: intOrder}
}

func (wr *wireReader) read(n int) []byte {
	if wr.err != nil {
		return nil
	}
	if _, err := io.ReadFull(wr.r, wr.buf[:n]); err != nil {
		wr.err = err
		return nil
	}
	return wr.buf[:n]
}

func (wr *wireReader) int() int {
	b := wr.read(4)
	if b == nil {
		return 0
	}
	return int(int32(wr.order.Uint32(b)))
}

func (wr *wireReader) length() int {
	n := wr.int()
	if wr.err == nil && (n < 0 || n > maxWireLen) {
		wr.err = fmt.Errorf("invalid length %d", n)
		return 0
	}
	return n
}

func (wr *wireReader) float() float64 {
	b := wr.read(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (wr *wireReader) floats() []float64 {
	n := wr.length()
	if wr.err != nil {
		return nil
	}
	out := make([]float64, 0, min(n, maxPrealloc))
	for i := 0; i < n && wr.err == nil; i++ {
		out = append(out, wr.float())
	}
	return out
}

func (wr *wireReader) string() string {
	n := wr.length()
	if wr.err != nil {
		return ""
	}
	var sb strings.Builder
	sb.Grow(min(n, maxPrealloc))
	if _, err := io.CopyN(&sb, wr.r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		wr.err = err
		return ""
	}
	return sb.String()
}

func (wr *wireReader) bool() bool {
	b := wr.read(1)
	return b != nil && b[0] != 0
}
