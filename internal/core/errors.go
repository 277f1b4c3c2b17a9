package core

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Pipeline errors. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType means the content type is not plain text, JSON, PDF or Word.
	ErrUnsupportedType = errors.New("unsupported content type")

	// ErrExtractionFailure means the payload could not be parsed by its format library.
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrChunkingFailure is recovered inside the chunker and never leaves it.
	ErrChunkingFailure = errors.New("chunking failure")

	ErrEmbeddingBackend  = errors.New("embedding backend failure")
	ErrEmbeddingDisabled = errors.New("embedding backend not configured")

	// ErrDimensionMismatch is warning level unless strict mode is on.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	ErrRetrievalBackend = errors.New("retrieval backend failure")

	// ErrVectorSearchUnsupported tells the retriever to rank in-process instead.
	ErrVectorSearchUnsupported = errors.New("vector search unsupported by store")
)

// EmbeddingBackendError carries the model whose backend call failed.
type EmbeddingBackendError struct {
	Model string
	Err   error
}

func (e *EmbeddingBackendError) Error() string {
	return fmt.Sprintf("embedding backend failure (model %s): %v", e.Model, e.Err)
}

func (e *EmbeddingBackendError) Unwrap() []error {
	return []error{ErrEmbeddingBackend, e.Err}
}

// RetrievalError is returned by the retriever; the chat layer treats it as
// "no grounding available".
type RetrievalError struct {
	ChatbotID string
	Err       error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for chatbot %s: %v", e.ChatbotID, e.Err)
}

func (e *RetrievalError) Unwrap() []error {
	return []error{ErrRetrievalBackend, e.Err}
}

// MaxErrorMessageLen bounds error text persisted on document rows.
const MaxErrorMessageLen = 500

// SanitizeErrorMessage collapses whitespace, drops control characters and
// truncates to MaxErrorMessageLen runes.
func SanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	space := false
	for _, r := range err.Error() {
		switch {
		case unicode.IsSpace(r):
			if !space && b.Len() > 0 {
				b.WriteRune(' ')
			}
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		space = false
		b.WriteRune(r)
	}
	msg := strings.TrimSpace(b.String())
	runes := []rune(msg)
	if len(runes) > MaxErrorMessageLen {
		msg = string(runes[:MaxErrorMessageLen-3]) + "..."
	}
	return msg
}
