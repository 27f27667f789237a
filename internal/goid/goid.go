// Package goid exposes the current goroutine's id.
//
// The message system needs to distinguish "this goroutine is already
// dispatching into that endpoint" from "some other goroutine is", which the
// runtime does not expose directly. The id is parsed from the first line of
// the goroutine's stack header ("goroutine N [running]:"), which has been
// stable across Go releases. Do not use the id for anything beyond equality
// checks.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// Current returns the id of the calling goroutine.
func Current() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := buf[:n]
	if !bytes.HasPrefix(header, prefix) {
		return 0
	}
	header = header[len(prefix):]
	end := bytes.IndexByte(header, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(header[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
