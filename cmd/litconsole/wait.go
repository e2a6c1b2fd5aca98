package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/gate"
)

// awaitSettled issues a request while watching the panel and returns the
// first snapshot that is no longer loading. The initial snapshot is drained
// before the request so it is never mistaken for the result.
func awaitSettled[S any](ctx context.Context, watch func() (<-chan S, func()), loading func(S) bool, issue func() (gate.Ticket, error)) (S, error) {
	var zero S

	states, stop := watch()
	defer stop()

	select {
	case <-states:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	if _, err := issue(); err != nil {
		return zero, err
	}

	for {
		select {
		case s, ok := <-states:
			if !ok {
				return zero, domain.ErrSessionClosed
			}
			if !loading(s) {
				return s, nil
			}
		case <-ctx.Done():
			return zero, fmt.Errorf("waiting for result: %w", domain.ErrTimeout)
		}
	}
}

// outcomeError turns a failed snapshot into the command's error.
func outcomeError(outcome domain.OutcomeStatus, message string) error {
	if outcome != domain.OutcomeFailure {
		return nil
	}
	if message == "" {
		message = "request failed"
	}
	return errors.New(message)
}
