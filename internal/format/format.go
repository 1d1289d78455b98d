// Package format implements the external formatter boundary named but
// deliberately left unspecified by spec.md §1 ("the human-readable/JSON
// output formatter... only the interfaces these expose to the core are
// specified"): the bridge calls Formatter.Write for every
// DeployOutputEvent it produces (§6 "Bridge event stream").
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/constellation-run/constellation-go/pkg/event"
)

// Formatter renders one DeployOutputEvent to the bridge's output stream,
// in the order it is called (§6: "Emitted in the order observed").
type Formatter interface {
	Write(event.DeployOutputEvent) error
}

// HumanFormatter writes one readable line per event, grounded in the
// console-writer idiom of a structured logger's human-readable backend
// rather than a bespoke pretty-printer.
type HumanFormatter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewHumanFormatter writes through w.
func NewHumanFormatter(w io.Writer) *HumanFormatter { return &HumanFormatter{w: w} }

func (f *HumanFormatter) Write(evt event.DeployOutputEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var line string
	switch evt.Kind {
	case event.DeploySpawn:
		line = fmt.Sprintf("spawn  %s -> %s\n", evt.Parent, evt.Pid)
	case event.DeployOutput:
		line = fmt.Sprintf("output %s fd=%d %q\n", evt.Pid, evt.FD, evt.Data)
	case event.DeployExit:
		line = fmt.Sprintf("exit   %s %s\n", evt.Pid, evt.Status)
	}
	_, err := io.WriteString(f.w, line)
	return err
}

// JSONFormatter writes one JSON object per line (NDJSON), per §6: "json
// format is newline-delimited".
type JSONFormatter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONFormatter writes through w.
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{enc: json.NewEncoder(w)}
}

func (f *JSONFormatter) Write(evt event.DeployOutputEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enc.Encode(evt)
}
