// Package catdiag provides the diagnostic sink (component G) the analyzer
// and the catpass driver report through: the three non-fatal warnings of spec §7 —
// missing alias-table entries, unclassified store/load pointers, and
// load-result type mismatches — plus a way to capture them in tests instead
// of writing to stderr.
package catdiag

import (
	"fmt"
	"log"
)

func init() {
	log.SetFlags(log.Ltime | log.Lshortfile)
}

// Sink receives diagnostic messages.
type Sink interface {
	Warnf(format string, args ...any)
}

// Stderr is the default Sink, forwarding through the standard logger.
type Stderr struct{}

func (Stderr) Warnf(format string, args ...any) {
	log.Printf("[WARNING] "+format, args...)
}

// Collecting is a Sink test double that records every warning instead of
// writing it anywhere.
type Collecting struct {
	Messages []string
}

func (c *Collecting) Warnf(format string, args ...any) {
	c.Messages = append(c.Messages, fmt.Sprintf(format, args...))
}

// Discard is a Sink that drops every message. Useful for benchmarks or
// callers that only care about the rewrite result.
type Discard struct{}

func (Discard) Warnf(string, ...any) {}
