// Package tokenizer estimates model token counts for chunking and
// model-limit checks.
package tokenizer

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// BPE ranks ship with the binary so startup never reaches the network.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// DefaultEncoding is the BPE used by the OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// CharsPerToken is the heuristic ratio for Latin scripts.
const CharsPerToken = 4

// FastBytesPerToken is the pre-flight ratio. It counts bytes, so multi-byte
// scripts (Arabic, CJK) come out higher, which errs on the safe side for
// max-input checks.
const FastBytesPerToken = 3

// Counter returns a non-negative token estimate for a string.
type Counter interface {
	Count(text string) int
	Name() string
}

// NewCounter loads the named tiktoken encoding. When the encoder cannot be
// initialised (unknown encoding) it returns the heuristic counter
// together with the error so the caller can log the downgrade.
func NewCounter(encoding string) (Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return Heuristic{}, fmt.Errorf("load %s encoder: %w", encoding, err)
	}
	return &BPE{enc: enc, name: encoding}, nil
}

// BPE counts tokens with a real tiktoken encoder.
type BPE struct {
	enc  *tiktoken.Tiktoken
	name string
}

func (b *BPE) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(b.enc.Encode(text, nil, nil))
}

func (b *BPE) Name() string { return "tiktoken:" + b.name }

// Heuristic approximates ~4 characters per token.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n <= 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}

func (Heuristic) Name() string { return "heuristic" }

// EstimateFast is the cheap estimator used before calling an embedding
// backend. It is not used for chunk boundaries.
func EstimateFast(text string) int {
	n := len(text)
	if n <= 0 {
		return 0
	}
	return (n + FastBytesPerToken - 1) / FastBytesPerToken
}
