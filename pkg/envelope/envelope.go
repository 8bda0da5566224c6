// Package envelope builds and unwraps the numbered-group request/response
// bodies used by the backend.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// StemPrefixLen is the number of leading operation-code characters that are
// not part of the group key stem.
const StemPrefixLen = 4

// Group key suffixes.
const (
	GroupPayload   = "X1"
	GroupPaging    = "X2"
	GroupPrimary   = "Z1"
	GroupSecondary = "Z2"
)

// Field names inside the paging and secondary groups.
const (
	FieldStartIndex = "startIndex"
	FieldPageSize   = "pageSize"
	FieldTotalCount = "totalCount"
)

// ErrMalformedBody is returned when a raw response body is not a JSON object.
var ErrMalformedBody = errors.New("malformed response body")

// Item is a single record inside a group.
type Item = map[string]any

// Envelope is an outgoing request body: group key -> one-element sequence.
type Envelope map[string]any

// Body is a parsed response body. A nil Body is a null backend response.
type Body map[string]any

// Paging carries the pagination parameters of the X2 group.
type Paging struct {
	StartIndex int
	PageSize   int
}

// Decoded is an unwrapped response.
type Decoded struct {
	// Primary holds the Z1 elements as sent, never nil. Elements are
	// usually Items but scalars are kept too.
	Primary []any
	// Secondary holds the Z2 elements as sent, never nil.
	Secondary []any
	// TotalCount is Z2[0].totalCount when the backend reported it.
	TotalCount *int
}

// Stem strips the fixed prefix from an operation code.
//
// Example: "MC06GETLIST" -> "GETLIST".
func Stem(operationCode string) string {
	if len(operationCode) <= StemPrefixLen {
		return ""
	}
	return operationCode[StemPrefixLen:]
}

// Key returns the group key for an operation code, e.g. Key("MC06GETLIST", "Z1") = "GETLISTZ1".
func Key(operationCode, group string) string {
	return Stem(operationCode) + group
}

// Encode builds the request envelope. The X2 group is only present when
// paging is non-nil and PageSize > 0. The payload map is wrapped, not copied.
func Encode(operationCode string, payload Item, paging *Paging) Envelope {
	if payload == nil {
		payload = Item{}
	}

	env := Envelope{
		Key(operationCode, GroupPayload): []any{payload},
	}

	if paging != nil && paging.PageSize > 0 {
		env[Key(operationCode, GroupPaging)] = []any{Item{
			FieldStartIndex: paging.StartIndex,
			FieldPageSize:   paging.PageSize,
		}}
	}

	return env
}

// Decode unwraps a parsed response body. A nil body and missing groups yield
// empty sequences, never an error.
func Decode(operationCode string, body Body) Decoded {
	d := Decoded{
		Primary:   []any{},
		Secondary: []any{},
	}
	if body == nil {
		return d
	}

	d.Primary = items(body[Key(operationCode, GroupPrimary)])
	d.Secondary = items(body[Key(operationCode, GroupSecondary)])

	if len(d.Secondary) > 0 {
		if first, ok := d.Secondary[0].(map[string]any); ok {
			if n, ok := toInt(first[FieldTotalCount]); ok {
				d.TotalCount = &n
			}
		}
	}

	return d
}

// DecodeJSON unwraps a raw JSON response body. Empty input and a literal
// null are the null response.
func DecodeJSON(operationCode string, raw []byte) (Decoded, error) {
	body, err := ParseBody(raw)
	if err != nil {
		return Decoded{}, err
	}
	return Decode(operationCode, body), nil
}

// ParseBody parses a raw JSON response body. It returns nil for empty input
// and for a literal null. Numbers decode as json.Number so large IDs
// survive unchanged.
func ParseBody(raw []byte) (Body, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedBody)
	}

	root := gjson.Parse(trimmed)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level is %s, want object", ErrMalformedBody, root.Type)
	}

	dec := json.NewDecoder(strings.NewReader(root.Raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	return Body(m), nil
}

// items converts a group value into a sequence. A null or non-array value
// is empty; the elements themselves are passed through unchanged.
func items(v any) []any {
	switch seq := v.(type) {
	case []any:
		return append([]any{}, seq...)
	case []Item:
		out := make([]any, len(seq))
		for i, item := range seq {
			out[i] = item
		}
		return out
	}
	return []any{}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		return parseInt(string(n))
	case string:
		return parseInt(strings.TrimSpace(n))
	}
	return 0, false
}

func parseInt(s string) (int, bool) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f), true
	}
	return 0, false
}
