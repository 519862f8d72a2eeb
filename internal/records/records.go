// Package records decodes and encodes the pipeline's record wire format:
// newline-delimited JSON (NDJSON) or a JSON array, one flat object per record.
//
// Keys are preserved exactly as they appear on the wire; case handling happens
// at the warehouse boundary where records meet target columns.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Record is one flat wire record.
type Record map[string]any

// Decode reads every record from r.
//
// Accepted shapes:
//   - a JSON array of objects (null elements are skipped)
//   - NDJSON: one object per line
//   - a single root object (one record)
//   - a JSON array followed by trailing NDJSON objects
//
// Numbers decode as json.Number to avoid float64 round-trips before values
// reach the warehouse driver.
func Decode(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("records: read first token: %w", err)
	}

	var out []Record

	switch d := tok.(type) {
	case json.Delim:
		switch d {
		case '[':
			for dec.More() {
				var raw any
				if err := dec.Decode(&raw); err != nil {
					return nil, fmt.Errorf("records: decode array element %d: %w", len(out)+1, err)
				}
				if raw == nil {
					continue
				}
				obj, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("records: array element %d is %T, want object", len(out)+1, raw)
				}
				out = append(out, Record(obj))
			}
			if end, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("records: read array end: %w", err)
			} else if end != json.Delim(']') {
				return nil, fmt.Errorf("records: expected ']', got %v", end)
			}
			return appendTrailing(dec, out)

		case '{':
			// Root object: NDJSON first line or a single record. Re-decode it
			// whole; flat records are small.
			var obj map[string]any
			if err := decodeObjectAfterBrace(dec, &obj); err != nil {
				return nil, err
			}
			out = append(out, Record(obj))
			return appendTrailing(dec, out)

		default:
			return nil, fmt.Errorf("records: unsupported root delimiter %q", d)
		}

	default:
		return nil, fmt.Errorf("records: unsupported root token %T (want object or array)", tok)
	}
}

// DecodeBytes is Decode over an in-memory object body.
func DecodeBytes(data []byte) ([]Record, error) {
	return Decode(bytes.NewReader(data))
}

// appendTrailing consumes any NDJSON objects remaining in the stream.
func appendTrailing(dec *json.Decoder, out []Record) ([]Record, error) {
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, fmt.Errorf("records: decode trailing object: %w", err)
		}
		out = append(out, Record(obj))
	}
}

// decodeObjectAfterBrace materializes the object whose '{' the caller already
// consumed from dec.
func decodeObjectAfterBrace(dec *json.Decoder, dst *map[string]any) error {
	obj := make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("records: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("records: object key is %T, want string", keyTok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("records: decode value for %q: %w", key, err)
		}
		obj[key] = v
	}
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("records: read object end: %w", err)
	}
	if end != json.Delim('}') {
		return fmt.Errorf("records: expected '}', got %v", end)
	}
	*dst = obj
	return nil
}

// EncodeNDJSON writes records to w, one JSON object per line. This is the
// format the extract stage ships to S3 and the matching service consumes.
func EncodeNDJSON(w io.Writer, recs []Record) error {
	enc := json.NewEncoder(w)
	for i, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("records: encode record %d: %w", i+1, err)
		}
	}
	return nil
}

// Scalar flattens a decoded JSON value into something bindable as a SQL
// parameter. Arrays of strings collapse to a joined string; other composites
// re-encode as JSON text.
func Scalar(v any) any {
	switch t := v.(type) {
	case nil, string, bool, json.Number, float64, int64:
		return t
	case []any:
		if len(t) == 0 {
			return ""
		}
		ss := make([]string, 0, len(t))
		for _, it := range t {
			s, ok := it.(string)
			if !ok {
				return jsonText(v)
			}
			ss = append(ss, s)
		}
		return strings.Join(ss, ",")
	default:
		return jsonText(v)
	}
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
