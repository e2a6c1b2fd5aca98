package domain

import (
	"strings"
)

// Record is one bibliographic item in Crossref style (title, DOI, author,
// container-title, ...). Its shape is owned by the retriever service.
type Record map[string]any

// Title returns the first title of the record, or "" when absent.
func (r Record) Title() string {
	return firstString(r["title"])
}

// FilterTitle returns the title used to refine a search from this record:
// the first title, falling back to the first container title.
func (r Record) FilterTitle() string {
	if t := r.Title(); t != "" {
		return t
	}
	return firstString(r["container-title"])
}

// DOI returns the DOI of the record, or "" when absent.
func (r Record) DOI() string {
	doi, _ := r["DOI"].(string)
	return doi
}

// MetadataFilename returns the download name of the JSON metadata export.
func (r Record) MetadataFilename() string {
	t := r.Title()
	if t == "" {
		return "metadata.json"
	}
	return strings.ReplaceAll(t, " ", "_") + ".json"
}

// firstString returns the first element of a string list, accepting a bare
// string as a one-element list.
func firstString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		if len(val) > 0 {
			return val[0]
		}
	case []any:
		if len(val) > 0 {
			s, _ := val[0].(string)
			return s
		}
	}
	return ""
}
