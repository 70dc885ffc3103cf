package audio

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	sentenceEnders = []rune{'.', '!', '?', ';', '\n', '。', '！', '？', '；'}
	clauseEnders   = []rune{',', ':', '，', '、', '：'}
)

// Chunker splits text into segments whose synthesized audio stays under MaxDuration
type Chunker struct {
	MaxDuration    time.Duration
	CharsPerSecond float64
}

// MaxChars is the per-chunk character budget at the given speed
func (c Chunker) MaxChars(speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	n := int(c.MaxDuration.Seconds() * c.CharsPerSecond * speed)
	if n < 1 {
		return 1
	}
	return n
}

// Split packs whole sentences into chunks of at most MaxChars runes. A sentence
// that is too long on its own is broken at commas, then at spaces, then hard.
func (c Chunker) Split(text string, speed float64) []string {
	maxChars := c.MaxChars(speed)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var pieces []string
	for _, sentence := range splitAfter(text, sentenceEnders) {
		if utf8.RuneCountInString(sentence) <= maxChars {
			pieces = append(pieces, sentence)
			continue
		}
		for _, clause := range splitAfter(sentence, clauseEnders) {
			if utf8.RuneCountInString(clause) <= maxChars {
				pieces = append(pieces, clause)
				continue
			}
			pieces = append(pieces, splitWords(clause, maxChars)...)
		}
	}
	return merge(pieces, maxChars)
}

// splitAfter cuts text after each delimiter rune, trimming and dropping empty parts
func splitAfter(text string, delims []rune) []string {
	var parts []string
	start := 0
	for i, r := range text {
		if !containsRune(delims, r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if s := strings.TrimSpace(text[start:end]); s != "" {
			parts = append(parts, s)
		}
		start = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		parts = append(parts, s)
	}
	return parts
}

func splitWords(text string, maxChars int) []string {
	var out []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, word := range strings.FieldsFunc(text, unicode.IsSpace) {
		wordLen := utf8.RuneCountInString(word)
		if wordLen > maxChars {
			flush()
			out = append(out, splitRunes(word, maxChars)...)
			continue
		}
		sep := 0
		if currentLen > 0 {
			sep = 1
		}
		if currentLen+sep+wordLen > maxChars {
			flush()
			sep = 0
		}
		if sep == 1 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
		currentLen += sep + wordLen
	}
	flush()
	return out
}

func splitRunes(word string, maxChars int) []string {
	runes := []rune(word)
	var out []string
	for len(runes) > 0 {
		n := maxChars
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// merge greedily joins adjacent pieces while the result fits in maxChars
func merge(pieces []string, maxChars int) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0

	for _, p := range pieces {
		pLen := utf8.RuneCountInString(p)
		if currentLen > 0 && currentLen+1+pLen > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		current.WriteString(p)
		currentLen += pLen
	}
	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func containsRune(set []rune, r rune) bool {
	for _, s := range set {
		if s == r {
			return true
		}
	}
	return false
}
