package format

import (
	"io"
	"os"

	"golang.org/x/term"
)

// Select builds the Formatter CONSTELLATION_FORMAT and the destination's
// terminal-ness call for (§4.6: "human-formatted lines (terminal) or
// JSON objects (pipe)"). An explicit "human"/"json" value always wins;
// "" defers to term.IsTerminal, the one piece of terminal-detection logic
// spec.md keeps as an external collaborator (§1).
func Select(format string, w io.Writer) Formatter {
	switch format {
	case "human":
		return NewHumanFormatter(w)
	case "json":
		return NewJSONFormatter(w)
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return NewHumanFormatter(w)
	}
	return NewJSONFormatter(w)
}
