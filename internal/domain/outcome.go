package domain

// OutcomeStatus is the state of the result of a request/response cycle.
type OutcomeStatus string

const (
	// OutcomePending means no result has arrived yet. It is distinct from
	// a successful result with no values.
	OutcomePending OutcomeStatus = "pending"
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// IsSettled returns true when the outcome holds a result or an error.
func (s OutcomeStatus) IsSettled() bool {
	return s == OutcomeSuccess || s == OutcomeFailure
}

// SearchOrigin records which operation produced the current search results.
type SearchOrigin string

const (
	OriginQuery          SearchOrigin = "query"
	OriginPage           SearchOrigin = "page"
	OriginTitleFilter    SearchOrigin = "title_filter"
	OriginImportOpenAlex SearchOrigin = "import_openalex"
	OriginImportRIS      SearchOrigin = "import_ris"
)
