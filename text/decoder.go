// Package text decodes streamed UTF-8 bytes using golang.org/x/text.
package text

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns a sequence of byte chunks into text fragments. A multi-byte
// character split across chunks is carried over and emitted whole once its
// remaining bytes arrive. Invalid bytes become U+FFFD.
//
// A Decoder holds per-stream state: create one per exchange.
type Decoder struct {
	t     transform.Transformer
	carry []byte
}

// NewDecoder creates a Decoder for a single stream.
func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Push decodes chunk, prefixed by any bytes carried from the previous call,
// and returns the decodable text. An incomplete trailing sequence is held
// back for the next call.
func (d *Decoder) Push(chunk []byte) string {
	if len(chunk) == 0 {
		return ""
	}
	src := chunk
	if len(d.carry) > 0 {
		src = append(d.carry, chunk...)
		d.carry = nil
	}
	// Worst case every byte is invalid and expands to a 3-byte U+FFFD.
	dst := make([]byte, 3*len(src))
	nDst, nSrc, err := d.t.Transform(dst, src, false)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		// The UTF-8 decoder only reports short buffers; anything else keeps
		// the unconsumed tail for the next call rather than dropping it.
		d.carry = append([]byte(nil), src[nSrc:]...)
		return string(dst[:nDst])
	}
	if nSrc < len(src) {
		d.carry = append([]byte(nil), src[nSrc:]...)
	}
	return string(dst[:nDst])
}

// Finish flushes the decoder at end of stream. Bytes still carried form an
// incomplete character and are replaced by a single U+FFFD.
func (d *Decoder) Finish() string {
	if len(d.carry) == 0 {
		return ""
	}
	d.carry = nil
	d.t.Reset()
	return string(utf8.RuneError)
}

// Pending reports how many bytes are carried over awaiting completion.
func (d *Decoder) Pending() int {
	return len(d.carry)
}
