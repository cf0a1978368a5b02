package splitter

import (
	"strings"
	"unicode/utf8"
)

// SplitterConfig controls chunk sizing. Sizes are measured in bytes, which
// matches what the embedding service's context window is provisioned for.
type SplitterConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// Splitter breaks page text into bounded, overlapping chunks. It tries the
// coarsest separator first and only falls back to finer ones for segments
// still over the chunk size.
type Splitter struct {
	config SplitterConfig
}

func defaultSeparators() []string {
	return []string{"\n\n", "\n", "。", ". ", " ", ""}
}

func NewWithConfig(config SplitterConfig) Splitter {
	if config.ChunkSize == 0 {
		config.ChunkSize = 200
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 20
	}
	if len(config.Separators) == 0 {
		config.Separators = defaultSeparators()
	}
	return Splitter{config: config}
}

func New() Splitter {
	return NewWithConfig(SplitterConfig{})
}

// Split returns the chunks for one page of text. An empty page yields no
// chunks. A segment that no separator can break is emitted whole even when
// it exceeds the chunk size; nothing is ever truncated.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.config.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := ""
	var finer []string
	for i, c := range separators {
		if c == "" {
			break
		}
		if strings.Contains(text, c) {
			sep = c
			finer = separators[i+1:]
			break
		}
	}

	// No usable separator left: this segment is atomic, oversized or not.
	if sep == "" {
		return []string{text}
	}

	pieces := splitAfter(text, sep)

	var chunks []string
	var fitting []string
	for _, piece := range pieces {
		if len(piece) <= s.config.ChunkSize {
			fitting = append(fitting, piece)
			continue
		}
		chunks = append(chunks, s.merge(fitting)...)
		fitting = nil
		chunks = append(chunks, s.split(piece, finer)...)
	}
	chunks = append(chunks, s.merge(fitting)...)

	return chunks
}

// merge greedily packs adjacent pieces into chunks up to the size limit,
// carrying the configured overlap from the end of each chunk into the next.
// The carried overlap shrinks when a full carry would push the next chunk
// over the limit; the limit always wins over the overlap. Separators stay
// attached to their piece, so within a chunk the source text is reproduced
// verbatim.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var current strings.Builder

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece) > s.config.ChunkSize {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			if carry := s.config.ChunkOverlap; carry > 0 {
				if carry+len(piece) > s.config.ChunkSize {
					carry = s.config.ChunkSize - len(piece)
				}
				current.WriteString(tail(chunk, carry))
			}
		}
		current.WriteString(piece)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// splitAfter is strings.SplitAfter without the trailing empty piece that
// appears when the text ends in the separator.
func splitAfter(text, sep string) []string {
	pieces := strings.SplitAfter(text, sep)
	if n := len(pieces); n > 0 && pieces[n-1] == "" {
		pieces = pieces[:n-1]
	}
	return pieces
}

// tail returns the last n bytes of s, moved forward to a rune boundary so
// multi-byte punctuation is never cut in half.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
