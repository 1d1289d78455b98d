// Package selector implements the select primitive of spec.md §4.3: given a
// set of pending sends and receives across unrelated channels, commit
// exactly one that is ready, parking the caller if none are.
package selector

import (
	"context"
	"errors"
	"math/rand/v2"

	"golang.org/x/exp/slices"

	"github.com/constellation-run/constellation-go/internal/channel"
)

// ErrEmpty is returned by Select when called with no tokens.
var ErrEmpty = errors.New("selector: no selectables given")

// Select blocks until at least one of tokens is ready, then commits exactly
// one of the ready tokens chosen uniformly at random (spec §4.3: "ties are
// broken by a uniform random choice among the ready set, not by token
// order", grounded on original_source/constellation-internal/src/ext.rs
// rand_stream::Rand<T> reservoir sampling). It returns the len(tokens)-1
// remaining, uncommitted tokens in their original identities, so a caller
// can pass the result straight back into another Select (spec §4.3 step 5).
func Select(tokens []channel.Selectable) ([]channel.Selectable, error) {
	return SelectContext(context.Background(), tokens)
}

// SelectContext is Select with cancellation via ctx.
func SelectContext(ctx context.Context, tokens []channel.Selectable) ([]channel.Selectable, error) {
	if len(tokens) == 0 {
		return nil, ErrEmpty
	}

	if ready := readySubset(tokens); len(ready) > 0 {
		return commitOne(tokens, ready)
	}

	wake := make(chan struct{}, len(tokens))
	cancel := make(chan struct{})
	defer close(cancel)

	for _, t := range tokens {
		t.Register(wake, cancel)
	}

	for {
		select {
		case <-wake:
			if ready := readySubset(tokens); len(ready) > 0 {
				return commitOne(tokens, ready)
			}
			// Spurious wake (another goroutine raced us to the same
			// token): keep waiting for the next one.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// readySubset filters tokens down to those currently ready, preserving
// order, via golang.org/x/exp/slices.
func readySubset(tokens []channel.Selectable) []channel.Selectable {
	return slices.DeleteFunc(slices.Clone(tokens), func(t channel.Selectable) bool {
		return !t.IsReady()
	})
}

// commitOne visits ready in a uniformly random order (rand.Perm) and
// commits the first token that is still ready, returning all of tokens
// except that one. If a commit loses a race (another caller committed it
// first), it falls back to the next candidate rather than failing Select
// outright.
func commitOne(tokens, ready []channel.Selectable) ([]channel.Selectable, error) {
	order := rand.Perm(len(ready))
	var lastErr error
	for _, idx := range order {
		t := ready[idx]
		if !t.IsReady() {
			continue
		}
		if err := t.Commit(); err != nil {
			lastErr = err
			continue
		}
		return without(tokens, t), nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrEmpty
}

// without returns tokens with the first occurrence of t removed, otherwise
// preserving order and identity.
func without(tokens []channel.Selectable, t channel.Selectable) []channel.Selectable {
	remaining := make([]channel.Selectable, 0, len(tokens)-1)
	removed := false
	for _, candidate := range tokens {
		if !removed && candidate == t {
			removed = true
			continue
		}
		remaining = append(remaining, candidate)
	}
	return remaining
}

// Run drives Select to exhaustion: it repeatedly selects and commits among
// tokens until every token has been committed once, then returns (spec
// §4.3 "Run").
func Run(tokens []channel.Selectable) error {
	return RunContext(context.Background(), tokens)
}

// RunContext is Run with cancellation via ctx.
func RunContext(ctx context.Context, tokens []channel.Selectable) error {
	remaining := slices.Clone(tokens)
	for len(remaining) > 0 {
		next, err := SelectContext(ctx, remaining)
		if err != nil {
			return err
		}
		remaining = next
	}
	return nil
}
