package audio

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerMaxChars(t *testing.T) {
	c := Chunker{MaxDuration: 15 * time.Second, CharsPerSecond: 14}
	assert.Equal(t, 210, c.MaxChars(1))
	assert.Equal(t, 420, c.MaxChars(2))
	assert.Equal(t, 105, c.MaxChars(0.5))
	assert.Equal(t, 210, c.MaxChars(0))
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	c := Chunker{MaxDuration: 15 * time.Second, CharsPerSecond: 14}
	assert.Equal(t, []string{"Hello world."}, c.Split("  Hello world.  ", 1))
	assert.Nil(t, c.Split("   ", 1))
}

func TestSplitPacksSentences(t *testing.T) {
	c := Chunker{MaxDuration: 10 * time.Second, CharsPerSecond: 4} // 40 chars

	text := "The cat sat down. It was tired. The dog barked loudly at the cat. Then silence."
	chunks := c.Split(text, 1)

	require.Len(t, chunks, 3)
	assert.Equal(t, "The cat sat down. It was tired.", chunks[0])
	assert.Equal(t, "The dog barked loudly at the cat.", chunks[1])
	assert.Equal(t, "Then silence.", chunks[2])
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 40)
	}
}

func TestSplitLongSentenceAtCommas(t *testing.T) {
	c := Chunker{MaxDuration: 10 * time.Second, CharsPerSecond: 3} // 30 chars

	text := "When the rain stopped at last, the children ran outside, laughing all the way"
	chunks := c.Split(text, 1)

	require.Len(t, chunks, 3)
	assert.Equal(t, "When the rain stopped at last,", chunks[0])
	assert.Equal(t, "the children ran outside,", chunks[1])
	assert.Equal(t, "laughing all the way", chunks[2])
}

func TestSplitFallsBackToWordsAndRunes(t *testing.T) {
	c := Chunker{MaxDuration: time.Second, CharsPerSecond: 10} // 10 chars

	chunks := c.Split("alpha beta gamma supercalifragilistic", 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 10, ch)
	}
	joined := strings.ReplaceAll(strings.Join(chunks, ""), " ", "")
	assert.Equal(t, "alphabetagammasupercalifragilistic", joined)
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	c := Chunker{MaxDuration: time.Second, CharsPerSecond: 6}

	chunks := c.Split("Xin chào. Tạm biệt.", 1)
	assert.Equal(t, []string{"Xin", "chào.", "Tạm", "biệt."}, chunks)
}
