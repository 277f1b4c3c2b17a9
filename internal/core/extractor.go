package core

// ExtractedText represents the result of text extraction, potentially with metadata.
type ExtractedText struct {
	Text     string
	Metadata map[string]string
}

// DocumentExtractor turns raw upload bytes into flat UTF-8 text.
type DocumentExtractor interface {
	// Extract returns ErrUnsupportedType for unknown content types and
	// ErrExtractionFailure when the payload cannot be parsed.
	Extract(data []byte, contentType, fileName string) (*ExtractedText, error)
}
