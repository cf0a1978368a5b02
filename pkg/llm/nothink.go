package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter strips <think>...</think> reasoning blocks from a token
// stream. The delimiters routinely straddle fragment boundaries, so the
// filter buffers any trailing bytes that could still turn into a marker
// and never lets half a delimiter through.
type thinkFilter struct {
	enabled    bool
	pending    string
	inThink    bool
	afterThink bool
}

func newThinkFilter(enabled bool) *thinkFilter {
	return &thinkFilter{enabled: enabled}
}

// Feed consumes one stream fragment and returns whatever is safe to show.
func (f *thinkFilter) Feed(fragment string) string {
	if !f.enabled {
		return fragment
	}

	buf := f.pending + fragment
	f.pending = ""

	var out strings.Builder
	for buf != "" {
		if f.inThink {
			i := strings.Index(buf, thinkClose)
			if i < 0 {
				// Retain just enough to recognize a marker split across
				// fragments; the rest is reasoning text and is dropped.
				f.pending = ambiguousTail(buf, thinkClose)
				return out.String()
			}
			buf = buf[i+len(thinkClose):]
			f.inThink = false
			f.afterThink = true
			continue
		}

		if i := strings.Index(buf, thinkOpen); i >= 0 {
			out.WriteString(f.emit(buf[:i]))
			buf = buf[i+len(thinkOpen):]
			f.inThink = true
			continue
		}

		keep := ambiguousTail(buf, thinkOpen)
		out.WriteString(f.emit(buf[:len(buf)-len(keep)]))
		f.pending = keep
		return out.String()
	}

	return out.String()
}

// Flush releases whatever is held at end of stream. Text inside an
// unterminated think block stays suppressed.
func (f *thinkFilter) Flush() string {
	if !f.enabled || f.inThink {
		f.pending = ""
		return ""
	}
	out := f.emit(f.pending)
	f.pending = ""
	return out
}

// emit applies the one cosmetic rule: the newlines the model places right
// after a reasoning block do not reach the caller.
func (f *thinkFilter) emit(s string) string {
	if f.afterThink {
		s = strings.TrimLeft(s, "\n")
		if s != "" {
			f.afterThink = false
		}
	}
	return s
}

// ambiguousTail returns the longest suffix of s that is a strict prefix of
// marker, i.e. the bytes that may yet become the marker once more of the
// stream arrives.
func ambiguousTail(s, marker string) string {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, s[len(s)-n:]) {
			return s[len(s)-n:]
		}
	}
	return ""
}
