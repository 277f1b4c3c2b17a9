package ingestion_engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/core/tokenizer"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Boundaries in priority order. Each match stays attached to the text before
// it so pieces concatenate back to the source.
var separators = []*regexp.Regexp{
	regexp.MustCompile(`\n[ \t]*\n\s*`),            // paragraph
	regexp.MustCompile(`\n\s*`),                    // line
	regexp.MustCompile(`[.!?؟۔。！？]+["'”’)\]]*\s+`), // sentence
	regexp.MustCompile(`[,;:،؛，；]\s+`),             // clause
	regexp.MustCompile(`\s+`),                      // word
}

var sentenceEnd = separators[2]

// Chunker splits extracted text into token-bounded, overlapping chunks.
type Chunker struct {
	counter tokenizer.Counter
	size    int
	overlap int
	logger  *zap.Logger

	// primary is the boundary-aware splitter; swapped in tests.
	primary func(text string, budget int) ([]string, error)
}

type ChunkerOption func(*Chunker)

// WithChunkSize sets the maximum tokens per chunk.
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the tokens shared between consecutive chunks.
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func WithChunkerLogger(l *zap.Logger) ChunkerOption {
	return func(c *Chunker) { c.logger = l }
}

// NewChunker uses counter for every size decision it makes.
func NewChunker(counter tokenizer.Counter, opts ...ChunkerOption) *Chunker {
	if counter == nil {
		counter = tokenizer.Heuristic{}
	}
	c := &Chunker{
		counter: counter,
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	c.primary = c.splitRecursive
	return c
}

// chunk is one piece of a document in source order.
//
// Pos:      zero-based, contiguous position inside the document.
// Text:     chunk content, never blank.
// TokenCnt: token count per the chunker's counter.
type chunk struct {
	Pos      int
	Text     string
	TokenCnt int
}

// Split never fails. If the boundary-aware splitter errors or panics, the
// sentence splitter takes over under the same size and overlap contract.
func (c *Chunker) Split(text string) []chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	budget := c.size - c.overlap
	pieces, err := c.runPrimary(text, budget)
	if err != nil {
		c.logger.Warn("boundary splitter failed; using sentence splitter",
			zap.Error(err), zap.String("counter", c.counter.Name()))
		pieces = c.splitSentences(text, budget)
	}
	return c.withOverlap(pieces)
}

func (c *Chunker) runPrimary(text string, budget int) (pieces []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", core.ErrChunkingFailure, r)
		}
	}()
	pieces, err = c.primary(text, budget)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrChunkingFailure, err)
	}
	return pieces, nil
}

// splitRecursive packs text into pieces of at most budget tokens, cutting at
// the highest-priority boundary that makes pieces small enough.
func (c *Chunker) splitRecursive(text string, budget int) ([]string, error) {
	var out []string
	c.splitLevel(text, budget, 0, &out)
	return out, nil
}

func (c *Chunker) splitLevel(text string, budget, level int, out *[]string) {
	if c.counter.Count(text) <= budget {
		appendPiece(out, text)
		return
	}
	if level >= len(separators) {
		*out = append(*out, c.hardSplit(text, budget)...)
		return
	}

	parts := splitKeep(text, separators[level])
	if len(parts) == 1 {
		c.splitLevel(text, budget, level+1, out)
		return
	}

	var fits []string
	for _, p := range parts {
		if c.counter.Count(p) <= budget {
			fits = append(fits, p)
			continue
		}
		*out = append(*out, c.merge(fits, budget)...)
		fits = fits[:0]
		c.splitLevel(p, budget, level+1, out)
	}
	*out = append(*out, c.merge(fits, budget)...)
}

// merge greedily concatenates adjacent parts while the result fits budget.
func (c *Chunker) merge(parts []string, budget int) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, p := range parts {
		if cur.Len() > 0 && c.counter.Count(cur.String()+p) > budget {
			appendPiece(&out, cur.String())
			cur.Reset()
		}
		cur.WriteString(p)
	}
	appendPiece(&out, cur.String())
	return out
}

// hardSplit cuts text with no usable boundary into the longest rune prefixes
// that fit budget.
func (c *Chunker) hardSplit(text string, budget int) []string {
	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		lo, hi := 1, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if c.counter.Count(string(runes[:mid])) <= budget {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		appendPiece(&out, string(runes[:lo]))
		runes = runes[lo:]
	}
	return out
}

// splitSentences is the fallback: sentence-end punctuation and newlines only,
// greedy packing, hard split for oversized sentences.
func (c *Chunker) splitSentences(text string, budget int) []string {
	var sentences []string
	for _, line := range strings.SplitAfter(text, "\n") {
		sentences = append(sentences, splitKeep(line, sentenceEnd)...)
	}

	var parts []string
	for _, s := range sentences {
		if c.counter.Count(s) > budget {
			parts = append(parts, c.hardSplit(s, budget)...)
			continue
		}
		parts = append(parts, s)
	}
	return c.merge(parts, budget)
}

// withOverlap prefixes each piece after the first with the tail of its
// predecessor, up to c.overlap tokens, keeping every chunk within c.size.
func (c *Chunker) withOverlap(pieces []string) []chunk {
	out := make([]chunk, 0, len(pieces))
	for i, p := range pieces {
		text := p
		if i > 0 && c.overlap > 0 {
			text = c.prependTail(pieces[i-1], p)
		}
		out = append(out, chunk{Pos: len(out), Text: text, TokenCnt: c.counter.Count(text)})
	}
	return out
}

func (c *Chunker) prependTail(prev, next string) string {
	tail := c.tail(prev, c.overlap)
	for tail != "" {
		joined := tail + " " + next
		if c.counter.Count(joined) <= c.size {
			return joined
		}
		tail = dropFirstWord(tail)
	}
	return next
}

// tail returns the longest word-aligned suffix of s within limit tokens. Text
// without spaces falls back to a rune suffix.
func (c *Chunker) tail(s string, limit int) string {
	words := strings.Fields(s)
	best := ""
	for i := len(words) - 1; i >= 0; i-- {
		cand := strings.Join(words[i:], " ")
		if c.counter.Count(cand) > limit {
			break
		}
		best = cand
	}
	if best != "" {
		return best
	}

	last := []rune(strings.TrimRightFunc(s, unicode.IsSpace))
	lo, hi := 0, len(last)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.counter.Count(string(last[len(last)-mid:])) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(last[len(last)-lo:])
}

func dropFirstWord(s string) string {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		// no spaces: shorten by one rune
		_, size := utf8.DecodeRuneInString(s)
		return s[size:]
	}
	return strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

// splitKeep splits s after every match of re, keeping the separator.
func splitKeep(s string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}
	out := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		if loc[1] <= start {
			continue
		}
		out = append(out, s[start:loc[1]])
		start = loc[1]
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func appendPiece(out *[]string, s string) {
	if s = strings.TrimSpace(s); s != "" {
		*out = append(*out, s)
	}
}
