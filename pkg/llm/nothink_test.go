package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(f *thinkFilter, fragments ...string) string {
	var out string
	for _, frag := range fragments {
		out += f.Feed(frag)
	}
	return out + f.Flush()
}

func TestThinkFilter_Disabled(t *testing.T) {
	f := newThinkFilter(false)
	out := collect(f, "<think>reasoning</think>", "answer")
	assert.Equal(t, "<think>reasoning</think>answer", out)
}

func TestThinkFilter_SingleFragment(t *testing.T) {
	f := newThinkFilter(true)
	assert.Equal(t, "answer", collect(f, "<think>secret</think>answer"))
}

func TestThinkFilter_MarkerSplitAcrossFragments(t *testing.T) {
	f := newThinkFilter(true)
	assert.Equal(t, "answer", collect(f, "<thi", "nk>secret</think>answer"))
}

func TestThinkFilter_CloseMarkerSplitAcrossFragments(t *testing.T) {
	f := newThinkFilter(true)
	assert.Equal(t, "answer", collect(f, "<think>secret</th", "ink>answer"))
}

func TestThinkFilter_ByteAtATime(t *testing.T) {
	f := newThinkFilter(true)
	input := "<think>hidden reasoning</think>\n\nvisible"
	var out string
	for i := 0; i < len(input); i++ {
		out += f.Feed(input[i : i+1])
	}
	out += f.Flush()
	assert.Equal(t, "visible", out)
}

func TestThinkFilter_NewlinesAfterBlockTrimmed(t *testing.T) {
	f := newThinkFilter(true)
	assert.Equal(t, "answer", collect(f, "<think>x</think>\n\n", "answer"))
}

func TestThinkFilter_TextBeforeAndAfterBlock(t *testing.T) {
	f := newThinkFilter(true)
	assert.Equal(t, "before after", collect(f, "before ", "<think>mid</think>", "after"))
}

func TestThinkFilter_UnterminatedBlockSuppressed(t *testing.T) {
	// A stream truncated mid-reasoning must not leak the partial block.
	f := newThinkFilter(true)
	assert.Equal(t, "", collect(f, "<think>ran out of tok"))
}

func TestThinkFilter_TrailingPartialMarkerIsPlainTextAtEOF(t *testing.T) {
	f := newThinkFilter(true)
	assert.Equal(t, "a < b", collect(f, "a < b"))
	g := newThinkFilter(true)
	assert.Equal(t, "2 <thi", collect(g, "2 ", "<thi"))
}

func TestThinkFilter_NeverEmitsHalfOpenDelimiter(t *testing.T) {
	f := newThinkFilter(true)
	// Nothing may be emitted while "<thin" could still become a marker.
	assert.Equal(t, "", f.Feed("<thin"))
	assert.Equal(t, "", f.Feed("k>secret</think>"))
	assert.Equal(t, "done", f.Feed("done")+f.Flush())
}
