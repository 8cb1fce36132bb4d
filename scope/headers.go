package scope

import (
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
)

// Header is a single header line. Request header names are always lower-cased,
// values are kept intact.
type Header struct {
	Name, Value []byte
}

// Headers is an ordered list of header pairs. Duplicates are preserved in order of
// their appearance, while lookups by name return the first occurrence.
type Headers struct {
	pairs []Header
	index map[string]string
}

func NewHeaders(prealloc int) Headers {
	return Headers{
		pairs: make([]Header, 0, prealloc),
		index: make(map[string]string, prealloc),
	}
}

// Add appends a new pair. The name must already be lower-cased. The slices must not
// be modified afterwards, as the index refers to them without copying.
func (h *Headers) Add(name, value []byte) {
	h.pairs = append(h.pairs, Header{Name: name, Value: value})

	if h.index == nil {
		h.index = make(map[string]string)
	}

	key := uf.B2S(name)
	if _, found := h.index[key]; !found {
		h.index[key] = uf.B2S(value)
	}
}

// Get returns the first value of the lower-cased header name.
func (h Headers) Get(name string) (string, bool) {
	value, found := h.index[name]
	return value, found
}

// Value returns the first value of the lower-cased header name, or an empty string.
func (h Headers) Value(name string) string {
	value, _ := h.Get(name)
	return value
}

// Values returns all the values of the header, compared case-insensitively. Returns
// nil if there's none.
func (h Headers) Values(name string) (values []string) {
	for _, pair := range h.pairs {
		if strcomp.EqualFold(uf.B2S(pair.Name), name) {
			values = append(values, uf.B2S(pair.Value))
		}
	}

	return values
}

// Pairs exposes the underlying pairs in the order they arrived. They must not be modified.
func (h Headers) Pairs() []Header {
	return h.pairs
}

func (h Headers) Len() int {
	return len(h.pairs)
}
