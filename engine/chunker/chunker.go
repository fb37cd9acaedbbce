// Package chunker deterministically segments a page's normalized text into
// overlapping, token-bounded chunks whose boundaries prefer paragraph and
// sentence breaks over hard character cuts.
package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/ragforge/docpipe/engine/model"
)

// Options configures chunking. A non-positive ChunkSize falls back to 512 and
// a negative Overlap to 50; a zero Overlap means chunks do not overlap.
type Options struct {
	ChunkSize int // target tokens per chunk, default 512
	Overlap   int // overlap tokens between consecutive chunks, default 50
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 512
	}
	if o.Overlap < 0 {
		o.Overlap = 50
	}
	return o
}

var (
	reParagraphSplit = regexp.MustCompile(`\n{2,}`)
	reSentenceSplit  = regexp.MustCompile(`(?:[.!?])\s+`)
)

// tokenCount approximates token count as 4 characters per token, fixed per
// the spec's determinism requirement.
func tokenCount(s string) int {
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Chunk splits doc.ExtractedText into TextChunks. The result is empty only
// when the document's text is empty.
func Chunk(doc model.DocumentPage, opts Options) ([]model.TextChunk, error) {
	opts = opts.withDefaults()
	text := doc.ExtractedText
	if text == "" {
		return nil, nil
	}

	rawChunks := splitText(text, opts)
	positions := charPositions(text, rawChunks, opts)
	urlHash := md5Hex(doc.URL)[:16]

	out := make([]model.TextChunk, 0, len(rawChunks))
	for i, ct := range rawChunks {
		id := urlHash + "_" + strconv.Itoa(i)
		tc, err := model.NewTextChunk(
			id, ct, doc.URL, doc.Title, i, len(rawChunks),
			tokenCount(ct), positions[i][0], positions[i][1], doc.ContentHash,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

// splitText implements the paragraph-first, sentence-fallback, overlap-tail
// algorithm described in the specification. It returns raw chunk text only;
// positions are computed separately by charPositions.
func splitText(text string, opts Options) []string {
	paragraphs := reParagraphSplit.Split(text, -1)

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
		}
	}

	startNext := func() {
		if opts.Overlap > 0 && current.Len() > 0 {
			tail := current.String()
			overlapChars := opts.Overlap * 4
			if overlapChars < len(tail) {
				tail = tail[len(tail)-overlapChars:]
			}
			current.Reset()
			current.WriteString(tail)
			currentTokens = tokenCount(tail)
		} else {
			current.Reset()
			currentTokens = 0
		}
	}

	var addUnit func(unit, joiner string)
	addUnit = func(unit, joiner string) {
		unitTokens := tokenCount(unit)
		// A single sentence/paragraph that alone exceeds the chunk size
		// (possible when the source has no sentence terminators to split
		// on) is hard-split into fixed chunkSize*4-character windows and
		// fed back through addUnit, so overlap seeding still applies
		// between the resulting pieces.
		if unitTokens > opts.ChunkSize {
			windowChars := opts.ChunkSize * 4
			for pos := 0; pos < len(unit); pos += windowChars {
				end := pos + windowChars
				if end > len(unit) {
					end = len(unit)
				}
				addUnit(unit[pos:end], "")
			}
			return
		}
		if currentTokens+unitTokens > opts.ChunkSize {
			flush()
			startNext()
		}
		if current.Len() > 0 {
			current.WriteString(joiner)
		}
		current.WriteString(unit)
		currentTokens += unitTokens
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		paraTokens := tokenCount(para)
		if float64(paraTokens) > 1.5*float64(opts.ChunkSize) {
			for _, sentence := range reSentenceSplit.Split(para, -1) {
				sentence = strings.TrimSpace(sentence)
				if sentence == "" {
					continue
				}
				addUnit(sentence, " ")
			}
			continue
		}
		addUnit(para, "\n\n")
	}
	flush()

	if len(chunks) == 0 {
		limit := opts.ChunkSize * 4
		if limit > len(text) {
			limit = len(text)
		}
		chunks = append(chunks, text[:limit])
	}
	return chunks
}

// charPositions locates each chunk's first occurrence in text, advancing a
// cursor by (emitted length − overlap chars) between chunks. Falls back to
// the cursor itself when the literal chunk text isn't found (can happen
// after overlap-tail seeding produces a non-contiguous leading unit).
func charPositions(text string, chunks []string, opts Options) [][2]int {
	positions := make([][2]int, len(chunks))
	cursor := 0
	overlapChars := opts.Overlap * 4

	for i, ct := range chunks {
		start := strings.Index(text[min(cursor, len(text)):], ct)
		var end int
		if start == -1 {
			start = cursor
			end = start + len(ct)
		} else {
			start += min(cursor, len(text))
			end = start + len(ct)
		}
		positions[i] = [2]int{start, end}
		cursor = end - overlapChars
		if cursor < 0 {
			cursor = 0
		}
	}
	return positions
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
