// Package stream filters incremental model output: it hides in-band
// tool-call markup from the user while accumulating the raw text for the
// post-stream parser, and watches for idle streams.
package stream

import "strings"

// marker is a recognized tool-call or reasoning delimiter pair.
// Open and close are stored lowercase ASCII; matching folds ASCII case only,
// so byte offsets from the fold-aware scan are valid in the original text.
type marker struct {
	open  string
	close string
}

var markers = []marker{
	{"<|tool_call|>", "<|/tool_call|>"},
	{"<tool_call>", "</tool_call>"},
	{"[tool_call]", "[/tool_call]"},
	{"<|function_call|>", "<|/function_call|>"},
	{"<function_call>", "</function_call>"},
	{"<|think|>", "<|/think|>"},
	{"<think>", "</think>"},
}

// TagFilter consumes model output chunk by chunk, emitting user-visible text
// with tool markup removed. Every byte fed, markup included, is kept in Raw
// for the post-stream tool-call parser.
//
// The filter is chunking-invariant: for any split of the same byte sequence,
// the concatenated visible output is identical.
type TagFilter struct {
	raw strings.Builder

	// pending holds bytes that may be the start of a marker.
	// Bounded by the longest opener length.
	pending string

	// swallow state: inside a marker, looking for closer.
	swallowing bool
	closer     string
	tail       string // window for closer matching across chunks
}

// NewTagFilter returns a filter in its initial state.
func NewTagFilter() *TagFilter {
	return &TagFilter{}
}

// Feed processes a chunk and returns the visible text it produced.
func (f *TagFilter) Feed(chunk string) string {
	f.raw.WriteString(chunk)
	var out strings.Builder
	data := chunk
	for {
		if f.swallowing {
			buf := f.tail + data
			i := indexFold(buf, f.closer)
			if i < 0 {
				keep := len(f.closer) - 1
				if keep > len(buf) {
					keep = len(buf)
				}
				f.tail = buf[len(buf)-keep:]
				return out.String()
			}
			data = buf[i+len(f.closer):]
			f.swallowing = false
			f.tail = ""
			continue
		}

		buf := f.pending + data
		f.pending = ""
		emit, rest, m := scanOpener(buf)
		out.WriteString(emit)
		if m == nil {
			f.pending = rest
			return out.String()
		}
		f.swallowing = true
		f.closer = m.close
		f.tail = ""
		data = rest
	}
}

// Flush returns any text still held back. Call once when the stream closes.
// An unclosed marker's swallowed content stays hidden; a held marker prefix
// that never completed is visible text.
func (f *TagFilter) Flush() string {
	if f.swallowing {
		f.tail = ""
		return ""
	}
	out := f.pending
	f.pending = ""
	return out
}

// Raw returns everything fed so far, markup included.
func (f *TagFilter) Raw() string {
	return f.raw.String()
}

// Swallowing reports whether the filter is currently inside a marker.
func (f *TagFilter) Swallowing() bool {
	return f.swallowing
}

// scanOpener finds the earliest complete opener in buf. If found, it returns
// the text before it, the remainder after it, and the marker. Otherwise the
// returned rest is the longest buf suffix that could still become an opener;
// everything before it is safe to emit.
func scanOpener(buf string) (emit, rest string, m *marker) {
	best := -1
	var bestM *marker
	for i := range markers {
		if j := indexFold(buf, markers[i].open); j >= 0 && (best < 0 || j < best) {
			best = j
			bestM = &markers[i]
		}
	}
	if bestM != nil {
		return buf[:best], buf[best+len(bestM.open):], bestM
	}
	hold := longestOpenerPrefix(buf)
	return buf[:len(buf)-hold], buf[len(buf)-hold:], nil
}

// longestOpenerPrefix returns the length of the longest suffix of buf that
// folds to a proper prefix of some opener. A stray "<" followed by
// non-matching content scores zero and gets flushed rather than held forever.
func longestOpenerPrefix(buf string) int {
	max := 0
	for _, mk := range markers {
		limit := len(mk.open) - 1
		if limit > len(buf) {
			limit = len(buf)
		}
		for n := limit; n > max; n-- {
			if matchFold(buf[len(buf)-n:], mk.open[:n]) {
				max = n
				break
			}
		}
	}
	return max
}

// indexFold returns the byte offset of the first occurrence of pat in s,
// folding ASCII case. pat must be lowercase ASCII; non-ASCII bytes in s
// never match, so offsets stay exact regardless of multibyte content.
func indexFold(s, pat string) int {
	for i := 0; i+len(pat) <= len(s); i++ {
		if matchFold(s[i:i+len(pat)], pat) {
			return i
		}
	}
	return -1
}

// matchFold reports whether the first len(pat) bytes of s equal pat under
// ASCII case folding.
func matchFold(s, pat string) bool {
	for i := 0; i < len(pat); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != pat[i] {
			return false
		}
	}
	return true
}
