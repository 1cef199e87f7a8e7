package anonymizer

import (
	"io"
)

const readBufferSize = 4096

// RestoringReader de-anonymizes a stream, such as a model response, as it is
// read. Input is restored in windows that no placeholder match crosses, so
// the output equals DeAnonymize over the whole stream.
type RestoringReader struct {
	src     io.Reader
	restore *restorer
	buf     []byte
	raw     []byte // input not yet restored
	out     []byte // restored output not yet returned
	err     error
}

// NewRestoringReader wraps src so that placeholders from mapping are replaced
// with their originals. With an empty mapping src is returned unchanged.
func NewRestoringReader(src io.Reader, mapping []Entry) io.Reader {
	r := newRestorer(mapping)
	if len(r.pairs) == 0 {
		return src
	}
	return &RestoringReader{
		src:     src,
		restore: r,
		buf:     make([]byte, readBufferSize),
	}
}

// Read implements io.Reader.
func (r *RestoringReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(r.out) == 0 {
		if r.err != nil {
			if len(r.raw) > 0 {
				r.out = append(r.out, r.restore.restore(string(r.raw))...)
				r.raw = nil
				continue
			}
			return 0, r.err
		}

		n, err := r.src.Read(r.buf)
		r.raw = append(r.raw, r.buf[:n]...)
		if err != nil {
			r.err = err
			continue
		}
		r.scan()
	}

	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

// scan restores the longest prefix of raw whose outcome cannot change with
// more input. Matches starting at or after limit may still be incomplete;
// the cut is moved left until no match in raw crosses it.
func (r *RestoringReader) scan() {
	limit := len(r.raw) - r.restore.maxLen + 1
	if limit <= 0 {
		return
	}

	occs := r.restore.occurrences(string(r.raw))
	cut := limit
	for moved := true; moved; {
		moved = false
		for _, o := range occs {
			if o.start < cut && cut < o.end {
				cut = o.start
				moved = true
			}
		}
	}
	if cut == 0 {
		return
	}

	r.out = append(r.out, r.restore.restore(string(r.raw[:cut]))...)
	r.raw = append(r.raw[:0], r.raw[cut:]...)
}
