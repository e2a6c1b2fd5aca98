// Package pagination maps a fixed window of result pages to the zero-based
// cursor the retriever expects.
package pagination

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/gate"
)

// DefaultPages is the size of the page window.
const DefaultPages = 5

// OperationSelectPage is the gate operation name of a page selection.
const OperationSelectPage = "select_page"

// Sender transmits one event on the retriever channel.
type Sender interface {
	Send(event string, payload any) error
}

// Gate is the part of a request gate the controller drives.
type Gate interface {
	InFlight() bool
	TryStart(operation string) (gate.Ticket, bool)
	Complete() (gate.Ticket, bool)
}

// Page is one entry of the page window.
type Page struct {
	Number int  `json:"number"`
	Offset int  `json:"offset"`
	Active bool `json:"active"`
}

// cursorPayload is the body of search_query_cursor.
type cursorPayload struct {
	IDCursor int `json:"id_cursor"`
}

// Controller owns the cursor of one retriever context. The cursor starts at
// page 1 and is not reset by a new free-text query.
type Controller struct {
	gate   Gate
	sender Sender
	pages  int

	mu     sync.Mutex
	cursor int
}

// Option configures a Controller.
type Option func(*Controller)

// WithPages sets the window size. Values below 1 are ignored.
func WithPages(n int) Option {
	return func(c *Controller) {
		if n >= 1 {
			c.pages = n
		}
	}
}

// New creates a controller positioned on page 1.
func New(g Gate, sender Sender, opts ...Option) *Controller {
	c := &Controller{
		gate:   g,
		sender: sender,
		pages:  DefaultPages,
		cursor: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectPage moves the cursor to page p and asks the retriever for offset
// p-1. It returns domain.ErrRequestInFlight without any effect while a
// request is in flight, and a *domain.ValidationError for a page outside
// the window. When the send fails the gate is released again and the
// cursor stays where it was.
func (c *Controller) SelectPage(p int) (gate.Ticket, error) {
	if c.gate.InFlight() {
		return gate.Ticket{}, domain.ErrRequestInFlight
	}
	if p < 1 || p > c.pages {
		return gate.Ticket{}, domain.NewValidationError("page", fmt.Sprintf("must be between 1 and %d", c.pages))
	}

	payload, err := EncodeCursor(p - 1)
	if err != nil {
		return gate.Ticket{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ticket, ok := c.gate.TryStart(OperationSelectPage)
	if !ok {
		return gate.Ticket{}, domain.ErrRequestInFlight
	}

	if err := c.sender.Send(domain.EventSearchQueryCursor, payload); err != nil {
		c.gate.Complete()
		return gate.Ticket{}, fmt.Errorf("send %s: %w", domain.EventSearchQueryCursor, err)
	}
	c.cursor = p
	return ticket, nil
}

// Current returns the active page.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Offset returns the zero-based offset of the active page.
func (c *Controller) Offset() int {
	return c.Current() - 1
}

// Pages returns the window with exactly one active page.
func (c *Controller) Pages() []Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	pages := make([]Page, c.pages)
	for i := range pages {
		n := i + 1
		pages[i] = Page{Number: n, Offset: n - 1, Active: n == c.cursor}
	}
	return pages
}

// EncodeCursor returns the search_query_cursor payload for offset. The
// retriever expects the JSON object as a string.
func EncodeCursor(offset int) (string, error) {
	b, err := json.Marshal(cursorPayload{IDCursor: offset})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return string(b), nil
}
