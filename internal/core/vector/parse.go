package vector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// Parse normalizes a stored embedding into []float32. Native arrays,
// pgvector values and their text form ("[0.1,0.2]", also valid JSON) are
// all accepted. A nil input yields a nil vector.
func Parse(v any) ([]float32, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []float32:
		return t, nil
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out, nil
	case pgvector.Vector:
		return t.Slice(), nil
	case *pgvector.Vector:
		if t == nil {
			return nil, nil
		}
		return t.Slice(), nil
	case []byte:
		return parseText(string(t))
	case string:
		return parseText(t)
	default:
		return nil, fmt.Errorf("unsupported embedding representation %T", v)
	}
}

func parseText(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var fs []float32
	if err := json.Unmarshal([]byte(s), &fs); err == nil {
		return fs, nil
	}
	// pgvector text output can carry values JSON rejects (e.g. "1e+00" is fine,
	// but "NaN" is not); fall back to a plain split.
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed embedding text %q", truncate(s, 32))
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse embedding element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Format renders v in pgvector text form: [0.1,0.2,0.3].
func Format(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
