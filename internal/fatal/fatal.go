// Package fatal implements the abort-on-invariant-violation policy of
// spec.md §7: programming bugs (self-channel, duplicate endpoint, use
// before init) are never silently recovered from. Errors are wrapped with
// github.com/pkg/errors for a captured stack trace, logged, and the
// process exits with a diagnostic naming the offending invariant.
package fatal

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/constellation-run/constellation-go/internal/log"
)

// Invariant aborts the process because the named invariant was violated.
// logger may be nil, in which case the diagnostic is only written to
// stderr.
func Invariant(logger log.Logger, invariant string, detail any) {
	err := errors.WithStack(fmt.Errorf("invariant violated: %s: %v", invariant, detail))
	if logger != nil {
		logger.Error("fatal invariant violation", "invariant", invariant, "err", err)
	}
	fmt.Fprintf(os.Stderr, "constellation: fatal: %+v\n", err)
	os.Exit(2)
}

// SelfChannel aborts because a channel endpoint was constructed with the
// remote pid equal to the local pid (§8 scenario 6).
func SelfChannel(logger log.Logger, self any) {
	Invariant(logger, "self-channel", self)
}

// DuplicateEndpoint aborts because a second Sender/Receiver to the same
// remote was constructed while the first is still live (§3 "Channel
// endpoint" uniqueness invariant).
func DuplicateEndpoint(logger log.Logger, remote any, direction string) {
	Invariant(logger, "duplicate-endpoint", fmt.Sprintf("remote=%v direction=%s", remote, direction))
}

// MissingInit aborts because a public entry point was called before
// Init() returned (§4.7 "No code path may run before init returns").
func MissingInit(logger log.Logger) {
	Invariant(logger, "missing-init", "spawn/channel construction called before Init() returned")
}
