package ingestion_engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/kbforge/internal/core"
)

// Kind is a supported source format.
type Kind string

const (
	KindText Kind = "text"
	KindJSON Kind = "json"
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
)

var contentTypeKinds = map[string]Kind{
	"text/plain":        KindText,
	"text/markdown":     KindText,
	"text/x-markdown":   KindText,
	"application/json":  KindJSON,
	"text/json":         KindJSON,
	"application/pdf":   KindPDF,
	"application/x-pdf": KindPDF,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindDOCX,
}

var utf8BOM = []byte("\xef\xbb\xbf")

var extensionKinds = map[string]Kind{
	".txt":  KindText,
	".md":   KindText,
	".json": KindJSON,
	".pdf":  KindPDF,
	".docx": KindDOCX,
}

// DetectKind resolves the declared content type, falling back to the file
// extension when the type is missing or generic.
func DetectKind(contentType, fileName string) (Kind, error) {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if k, ok := contentTypeKinds[mt]; ok {
		return k, nil
	}
	if mt == "" || mt == "application/octet-stream" {
		if k, ok := extensionKinds[strings.ToLower(filepath.Ext(fileName))]; ok {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q (%s)", core.ErrUnsupportedType, contentType, fileName)
}

// TextExtractor implements core.DocumentExtractor for plain text, JSON, PDF and
// Word (.docx) payloads.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

func (e *TextExtractor) Extract(data []byte, contentType, fileName string) (*core.ExtractedText, error) {
	kind, err := DetectKind(contentType, fileName)
	if err != nil {
		return nil, err
	}

	var text string
	meta := map[string]string{"source": fileName, "format": string(kind)}
	switch kind {
	case KindText:
		text = decodeText(data)
	case KindJSON:
		text, err = flattenJSON(data)
	case KindPDF:
		var pages int
		text, pages, err = extractPDF(data)
		meta["pages"] = strconv.Itoa(pages)
	case KindDOCX:
		var props map[string]string
		text, props, err = extractDOCX(data)
		for k, v := range props {
			if v != "" {
				meta["docx_"+strings.ToLower(k)] = v
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrExtractionFailure, kind, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: %s contains no text", core.ErrExtractionFailure, fileName)
	}
	return &core.ExtractedText{Text: text, Metadata: meta}, nil
}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	s := string(data)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func extractPDF(content []byte) (text string, pages int, err error) {
	// the parser panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		buf.WriteString(text)
		if i < numPages-1 {
			buf.WriteString("\n\n")
		}
	}
	return buf.String(), numPages, nil
}

func extractDOCX(content []byte) (string, map[string]string, error) {
	text, props, err := docconv.ConvertDocx(bytes.NewReader(content))
	if err != nil {
		return "", nil, fmt.Errorf("convert docx: %w", err)
	}
	return text, props, nil
}

// flattenJSON renders a JSON document as indented "key: value" lines in
// source order. Array elements are labelled [i].
func flattenJSON(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	dec.UseNumber()

	var b strings.Builder
	if err := flattenValue(dec, &b, 0, ""); err != nil {
		return "", fmt.Errorf("parse JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", errors.New("parse JSON: trailing data after top-level value")
	}
	return b.String(), nil
}

func flattenValue(dec *json.Decoder, b *strings.Builder, depth int, label string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	delim, isDelim := tok.(json.Delim)
	if !isDelim {
		s := scalarString(tok)
		if label != "" {
			s = label + ": " + s
		}
		writeLine(b, depth, s)
		return nil
	}

	if !dec.More() {
		if _, err := dec.Token(); err != nil {
			return err
		}
		empty := "{}"
		if delim == '[' {
			empty = "[]"
		}
		if label != "" {
			empty = label + ": " + empty
		}
		writeLine(b, depth, empty)
		return nil
	}

	childDepth := depth
	if label != "" {
		writeLine(b, depth, label+":")
		childDepth = depth + 1
	}

	for i := 0; dec.More(); i++ {
		var childLabel string
		if delim == '{' {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			childLabel = keyTok.(string)
		} else {
			childLabel = "[" + strconv.Itoa(i) + "]"
		}
		if err := flattenValue(dec, b, childDepth, childLabel); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

func scalarString(tok json.Token) string {
	switch v := tok.(type) {
	case nil:
		return "null"
	case string:
		return strings.Join(strings.Fields(v), " ")
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func writeLine(b *strings.Builder, depth int, s string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(s)
}

var _ core.DocumentExtractor = (*TextExtractor)(nil)
