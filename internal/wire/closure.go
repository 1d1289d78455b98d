package wire

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/constellation-run/constellation-go/pkg/pid"
)

// Closure is the wire representation of a spawn entrypoint: a registered
// function name plus its gob-encoded captured argument. It is what
// actually crosses the fork/exec or scheduler boundary: the receiving
// process looks the name up in its own registry rather than receiving
// executable code.
//
// Closures rely on the child sharing the parent's binary image exactly:
// the registry is populated by package-level init() calls, which run
// identically in every process started from that binary.
type Closure struct {
	SchemaID uuid.UUID
	Name     string
	Arg      []byte
}

type closureEntry struct {
	invoke func(parent pid.Pid, arg []byte) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]closureEntry{}
)

// schemaID derives a stable id for a registered closure name. Using
// uuid.NewSHA1 over a fixed namespace means the id is reproducible across
// rebuilds of the same source without needing a central allocator.
var closureNamespace = uuid.MustParse("6f6e8b2e-6f2e-4b8e-9c1b-7a9d9b0e6a10")

func schemaID(name string) uuid.UUID {
	return uuid.NewSHA1(closureNamespace, []byte(name))
}

// IsRegistered reports whether name has a closure registered in this
// process image, letting a caller reject a typo'd name before shipping
// it anywhere (a spawn target, a scheduler request) that would only
// discover the mistake once a process has already been started.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// RegisterClosure registers a spawn entrypoint under name, to be invoked
// with the argument it was spawned with. Call from an init() function so
// every process image populates the registry identically before main
// runs.
func RegisterClosure[A any](name string, fn func(parent pid.Pid, arg A)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("wire: closure %q already registered", name))
	}
	registry[name] = closureEntry{
		invoke: func(parent pid.Pid, argBytes []byte) error {
			var arg A
			if len(argBytes) > 0 {
				if err := DecodeValue(argBytes, &arg); err != nil {
					return fmt.Errorf("wire: decoding closure %q argument: %w", name, err)
				}
			}
			fn(parent, arg)
			return nil
		},
	}
}

// NewClosure builds a Closure value for the named, registered entrypoint.
func NewClosure[A any](name string, arg A) (Closure, error) {
	argBytes, err := EncodeValue(arg)
	if err != nil {
		return Closure{}, fmt.Errorf("wire: encoding closure %q argument: %w", name, err)
	}
	return Closure{SchemaID: schemaID(name), Name: name, Arg: argBytes}, nil
}

// Invoke looks up c.Name in the registry and runs it with parent and the
// closure's decoded argument. Returns an error if the name was never
// registered in this process image (a schema_id mismatch would indicate
// the child is not running the same binary as the parent).
func Invoke(c Closure, parent pid.Pid) error {
	registryMu.RLock()
	entry, ok := registry[c.Name]
	registryMu.RUnlock()
	if !ok {
		return fmt.Errorf("wire: no closure registered under name %q (schema_id %s)", c.Name, c.SchemaID)
	}
	if got := schemaID(c.Name); got != c.SchemaID {
		return fmt.Errorf("wire: schema id mismatch for closure %q: child has %s, payload has %s", c.Name, got, c.SchemaID)
	}
	return entry.invoke(parent, c.Arg)
}
