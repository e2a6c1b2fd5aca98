// Package conversion drives the document conversion round trips of the
// retriever: OpenAlex JSON and RIS imports, and single record RIS exports.
package conversion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/gate"
)

// DefaultMaxDocumentBytes bounds an imported document.
const DefaultMaxDocumentBytes int64 = 10 << 20

// InvalidJSONMessage is the local error shown for a malformed JSON document.
const InvalidJSONMessage = "JSON is invalid."

// Gate operation names of the import flows.
const (
	OperationImportOpenAlex = "import_openalex"
	OperationImportRIS      = "import_ris"
)

// Sender transmits one event on a channel.
type Sender interface {
	Send(event string, payload any) error
}

// Gate is the part of a request gate the import flows drive.
type Gate interface {
	InFlight() bool
	TryStart(operation string) (gate.Ticket, bool)
	Complete() (gate.Ticket, bool)
}

// Importer sends local documents to the retriever for conversion. Both
// imports share the gate of the search flow and answer with search_results.
type Importer struct {
	sender   Sender
	gate     Gate
	maxBytes int64
	logger   zerolog.Logger
}

// NewImporter creates an importer. A maxBytes of zero or less selects
// DefaultMaxDocumentBytes.
func NewImporter(sender Sender, g Gate, maxBytes int64, logger zerolog.Logger) *Importer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	return &Importer{
		sender:   sender,
		gate:     g,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "importer").Logger(),
	}
}

// ImportOpenAlex validates r as JSON and sends it compacted as
// convert_from_openalex. A malformed document returns a
// *domain.ValidationError; nothing is sent and the gate is not latched.
func (i *Importer) ImportOpenAlex(r io.Reader) (gate.Ticket, error) {
	if i.gate.InFlight() {
		return gate.Ticket{}, domain.ErrRequestInFlight
	}

	doc, err := ReadDocument(r, i.maxBytes)
	if err != nil {
		return gate.Ticket{}, err
	}
	text, err := CompactJSON(doc)
	if err != nil {
		i.logger.Debug().Err(err).Msg("rejecting malformed OpenAlex document")
		return gate.Ticket{}, err
	}

	return i.send(OperationImportOpenAlex, domain.EventConvertFromOpenAlex, text)
}

// ImportRIS sends the text of r as convert_from_ris. The text is not parsed
// locally.
func (i *Importer) ImportRIS(r io.Reader) (gate.Ticket, error) {
	if i.gate.InFlight() {
		return gate.Ticket{}, domain.ErrRequestInFlight
	}

	doc, err := ReadDocument(r, i.maxBytes)
	if err != nil {
		return gate.Ticket{}, err
	}

	return i.send(OperationImportRIS, domain.EventConvertFromRIS, string(doc))
}

func (i *Importer) send(operation, event, payload string) (gate.Ticket, error) {
	ticket, ok := i.gate.TryStart(operation)
	if !ok {
		return gate.Ticket{}, domain.ErrRequestInFlight
	}
	if err := i.sender.Send(event, payload); err != nil {
		i.gate.Complete()
		return gate.Ticket{}, fmt.Errorf("send %s: %w", event, err)
	}

	i.logger.Debug().
		Str("request_id", ticket.RequestID).
		Str("event", event).
		Int("bytes", len(payload)).
		Msg("document sent for conversion")
	return ticket, nil
}

// ReadDocument reads a whole local document of at most maxBytes.
func ReadDocument(r io.Reader, maxBytes int64) ([]byte, error) {
	if r == nil {
		return nil, domain.NewValidationError("document", "document is required")
	}
	doc, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if int64(len(doc)) > maxBytes {
		return nil, domain.NewValidationError("document", fmt.Sprintf("document exceeds %d bytes", maxBytes))
	}
	return doc, nil
}

// CompactJSON validates doc as JSON and returns it without insignificant
// whitespace.
func CompactJSON(doc []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil || buf.Len() == 0 {
		return "", domain.NewValidationError("document", InvalidJSONMessage)
	}
	return buf.String(), nil
}
