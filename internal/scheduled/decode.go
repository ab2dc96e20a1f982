package scheduled

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/blacktop/snspost/internal/api"
)

// TargetEntry is one decoded target of a stored scheduled post.
type TargetEntry struct {
	ID       string
	Selected bool
	Content  string
}

// unwrap turns a JSON string holding encoded JSON into that JSON. Anything
// else is returned as is. ok is false when raw was a string whose contents
// are not JSON; text then holds the plain string.
func unwrap(raw json.RawMessage) (value json.RawMessage, text string, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return raw, "", true
	}
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, "", false
	}
	inner := bytes.TrimSpace([]byte(text))
	if len(inner) == 0 {
		return nil, text, true
	}
	if !json.Valid(inner) {
		return nil, text, false
	}
	return inner, text, true
}

// DecodeTargets accepts either a JSON object or a JSON string holding one.
// Key order is preserved. Anything undecodable yields an empty list.
func DecodeTargets(raw json.RawMessage) ([]TargetEntry, error) {
	value, _, ok := unwrap(raw)
	if !ok {
		return nil, fmt.Errorf("targets blob is not JSON")
	}
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return nil, nil
	}
	keys, values, err := orderedObject(value)
	if err != nil {
		return nil, err
	}
	out := make([]TargetEntry, 0, len(keys))
	for i, k := range keys {
		var tc api.TargetContent
		if err := json.Unmarshal(values[i], &tc); err != nil {
			// a scalar where an object belongs is kept, unselected
			out = append(out, TargetEntry{ID: k})
			continue
		}
		out = append(out, TargetEntry{ID: k, Selected: tc.Selected, Content: tc.Content})
	}
	return out, nil
}

// DecodeContent extracts the shared text. A plain string is used as is; a
// string holding JSON is decoded first; an object yields its first value.
func DecodeContent(raw json.RawMessage) (string, error) {
	value, text, ok := unwrap(raw)
	if !ok {
		return text, nil
	}
	if len(value) == 0 {
		return "", nil
	}
	switch value[0] {
	case '{':
		_, values, err := orderedObject(value)
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			return "", nil
		}
		return scalarText(values[0]), nil
	case '"':
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		return "", fmt.Errorf("content blob is a list")
	default:
		return scalarText(value), nil
	}
}

// DecodeMediaPaths accepts {"files": [...]} as an object or encoded string.
func DecodeMediaPaths(raw json.RawMessage) ([]string, error) {
	value, _, ok := unwrap(raw)
	if !ok {
		return nil, fmt.Errorf("media blob is not JSON")
	}
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return nil, nil
	}
	var mp api.MediaPaths
	if err := json.Unmarshal(value, &mp); err != nil {
		return nil, err
	}
	return mp.Files, nil
}

func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

// orderedObject splits a JSON object into its keys and raw values, in
// document order.
func orderedObject(raw json.RawMessage) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object")
	}
	var (
		keys   []string
		values []json.RawMessage
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected object key")
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		values = append(values, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}
