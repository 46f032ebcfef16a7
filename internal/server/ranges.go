package server

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// errUnsatisfiable is answered with 416.
	errUnsatisfiable = errors.New("range not satisfiable")

	// errIgnoreRange makes the handler serve the whole object.
	errIgnoreRange = errors.New("range ignored")
)

// byteRange is a resolved request range: Length bytes starting at Start.
type byteRange struct {
	Start  int64
	Length int64
}

func (r byteRange) end() int64 {
	return r.Start + r.Length - 1
}

// parseRange resolves a single "bytes=" range against an object of size
// bytes. Multi-range requests and other units return errIgnoreRange.
func parseRange(header string, size int64) (byteRange, error) {
	set, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return byteRange{}, errIgnoreRange
	}
	if strings.Contains(set, ",") {
		return byteRange{}, errIgnoreRange
	}

	first, last, ok := strings.Cut(strings.TrimSpace(set), "-")
	if !ok {
		return byteRange{}, errUnsatisfiable
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	// Suffix range: the final n bytes.
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return byteRange{}, errUnsatisfiable
		}
		n = min(n, size)
		return byteRange{Start: size - n, Length: n}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, errUnsatisfiable
	}

	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return byteRange{}, errUnsatisfiable
		}
		end = min(e, size-1)
	}
	return byteRange{Start: start, Length: end - start + 1}, nil
}
