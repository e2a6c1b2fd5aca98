// Package results decodes the payloads of terminal channel events into
// domain values.
package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/helixir/literature-console/internal/domain"
)

// UnknownErrorMessage is shown when an error event carries no usable message.
const UnknownErrorMessage = "Unknown Error detected."

// UnpackCategories decodes one classification result. Each configured
// category is decoded on its own: a field that is missing or malformed
// yields a *domain.CategoryDecodeError for that category and leaves the
// others intact. Fields that are not configured are ignored.
//
// The returned slice always has one entry per configured category, in
// configuration order. The error joins every category error; it wraps
// domain.ErrDecode when the payload is not a JSON object at all, in which
// case no values are returned.
func UnpackCategories(raw json.RawMessage, categories []domain.Category) ([]domain.CategoryValues, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("classification payload is not an object: %w", domain.ErrDecode)
	}

	out := make([]domain.CategoryValues, 0, len(categories))
	var errs []error
	for _, c := range categories {
		cv := domain.CategoryValues{Key: c.Key, Label: c.Label}
		values, err := decodeCategory(fields[c.Key])
		if err != nil {
			decodeErr := domain.NewCategoryDecodeError(c.Key, err)
			cv.Error = decodeErr.Error()
			errs = append(errs, decodeErr)
		} else {
			cv.Values = values
		}
		out = append(out, cv)
	}

	return out, errors.Join(errs...)
}

// DecodeDOI returns the DOI a classification result echoes back, or "" when
// it has none.
func DecodeDOI(raw json.RawMessage) string {
	var echo struct {
		DOI string `json:"DOI"`
	}
	if err := json.Unmarshal(raw, &echo); err != nil {
		return ""
	}
	return strings.TrimSpace(echo.DOI)
}

// decodeCategory accepts a JSON string holding an array, or the array itself.
func decodeCategory(field json.RawMessage) ([]string, error) {
	field = bytes.TrimSpace(field)
	if len(field) == 0 {
		return nil, errors.New("missing field")
	}
	if bytes.Equal(field, []byte("null")) {
		return nil, errors.New("null field")
	}

	if field[0] == '"' {
		var encoded string
		if err := json.Unmarshal(field, &encoded); err != nil {
			return nil, err
		}
		field = []byte(encoded)
	}

	var values []string
	if err := json.Unmarshal(field, &values); err != nil {
		return nil, err
	}
	if values == nil {
		return nil, errors.New("null array")
	}
	return values, nil
}

// DecodeRecords decodes a search_results payload {"results": X}. X is a
// JSON-encoded string or an inline value holding either a record array or a
// Crossref envelope {"message": {"items": [...]}}.
//
// A null or absent X returns domain.ErrNoResults: the retriever sends that
// right before a search_error. Zero matches return an empty, non-nil slice.
func DecodeRecords(raw json.RawMessage) ([]domain.Record, error) {
	var envelope struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("search payload: %v: %w", err, domain.ErrDecode)
	}

	inner, err := resultsValue(envelope.Results)
	if err != nil {
		return nil, err
	}

	switch inner[0] {
	case '[':
		return decodeRecordArray(inner)
	case '{':
		var crossref struct {
			Message *struct {
				Items json.RawMessage `json:"items"`
			} `json:"message"`
			Items json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(inner, &crossref); err != nil {
			return nil, fmt.Errorf("search results envelope: %v: %w", err, domain.ErrDecode)
		}
		items := crossref.Items
		if crossref.Message != nil && len(crossref.Message.Items) > 0 {
			items = crossref.Message.Items
		}
		if len(items) == 0 || bytes.Equal(bytes.TrimSpace(items), []byte("null")) {
			return []domain.Record{}, nil
		}
		return decodeRecordArray(items)
	default:
		return nil, fmt.Errorf("search results: unexpected %q: %w", truncate(string(inner), 32), domain.ErrDecode)
	}
}

// HasResults reports whether a search_results payload carries a results
// value. It is false exactly when DecodeRecords returns domain.ErrNoResults,
// such as for the {"results": null} frame sent before an error.
func HasResults(raw json.RawMessage) bool {
	var envelope struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return true
	}
	_, err := resultsValue(envelope.Results)
	return !errors.Is(err, domain.ErrNoResults)
}

// resultsValue unwraps the results field, decoding a JSON-encoded string.
// An absent, null or empty value returns domain.ErrNoResults.
func resultsValue(field json.RawMessage) ([]byte, error) {
	inner := bytes.TrimSpace(field)
	if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
		return nil, domain.ErrNoResults
	}
	if inner[0] != '"' {
		return inner, nil
	}

	var encoded string
	if err := json.Unmarshal(inner, &encoded); err != nil {
		return nil, fmt.Errorf("search results string: %v: %w", err, domain.ErrDecode)
	}
	inner = bytes.TrimSpace([]byte(encoded))
	if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
		return nil, domain.ErrNoResults
	}
	return inner, nil
}

func decodeRecordArray(data []byte) ([]domain.Record, error) {
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("search results array: %v: %w", err, domain.ErrDecode)
	}
	if records == nil {
		records = []domain.Record{}
	}
	return records, nil
}

// DecodeErrorMessage extracts the human-readable message of an error event.
// It accepts {"error": "msg"}, {"error": {"message": "msg"}} and a bare
// string payload.
func DecodeErrorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return UnknownErrorMessage
	}

	var bare string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &bare); err == nil && strings.TrimSpace(bare) != "" {
			return bare
		}
		return UnknownErrorMessage
	}

	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return UnknownErrorMessage
	}

	if msg := errorField(envelope.Error); msg != "" {
		return msg
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return UnknownErrorMessage
}

func errorField(field json.RawMessage) string {
	field = bytes.TrimSpace(field)
	if len(field) == 0 {
		return ""
	}
	switch field[0] {
	case '"':
		var s string
		_ = json.Unmarshal(field, &s)
		return strings.TrimSpace(s)
	case '{':
		var obj struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(field, &obj)
		return strings.TrimSpace(obj.Message)
	}
	return ""
}

// DecodeText decodes a conversion result into its text. The payload is a
// JSON string, an object {"results": "..."} or, from older builds, the raw
// frame bytes.
func DecodeText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("empty conversion result: %w", domain.ErrDecode)
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("conversion result: %v: %w", err, domain.ErrDecode)
		}
		return s, nil
	case '{':
		var envelope struct {
			Results *string `json:"results"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return "", fmt.Errorf("conversion result: %v: %w", err, domain.ErrDecode)
		}
		if envelope.Results == nil {
			return "", fmt.Errorf("conversion result without results: %w", domain.ErrDecode)
		}
		return *envelope.Results, nil
	default:
		return string(raw), nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
