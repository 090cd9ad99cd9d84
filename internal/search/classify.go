package search

import "strings"

// Classification is the closed set of states a backend job status string
// maps into. The backend reports free-form strings; every comparison in the
// engine goes through Classify so the synonym list lives in one place.
type Classification int

const (
	// StatusPending covers empty and recognized in-flight tokens.
	StatusPending Classification = iota
	// StatusPartial is the parameterized "processing(n)" state: results are
	// already fetchable but the job is not finished, so polling continues.
	StatusPartial
	// StatusTerminal means no further transitions are expected.
	StatusTerminal
	// StatusUnknown is any other non-empty string. Logged by callers and
	// treated as still pending, never as an error.
	StatusUnknown
)

const (
	// statusListed is the canonical terminal token.
	statusListed = "listed"
	// partialPrefix marks the parameterized in-progress-but-fetchable state.
	partialPrefix = "processing("
)

// terminalSynonyms are treated as equivalent to the canonical token.
var terminalSynonyms = map[string]bool{
	"completed": true,
	"finished":  true,
	"done":      true,
}

var pendingTokens = map[string]bool{
	"":            true,
	"pending":     true,
	"created":     true,
	"queued":      true,
	"in_progress": true,
}

func (c Classification) String() string {
	switch c {
	case StatusPending:
		return "pending"
	case StatusPartial:
		return "partial"
	case StatusTerminal:
		return "terminal"
	case StatusUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Terminal reports whether the classification ends the poll lifecycle.
func (c Classification) Terminal() bool {
	return c == StatusTerminal
}

// Classify maps an arbitrary backend status string into the closed set.
func Classify(status string) Classification {
	status = strings.TrimSpace(status)

	if status == statusListed || terminalSynonyms[status] {
		return StatusTerminal
	}

	if strings.HasPrefix(status, partialPrefix) {
		return StatusPartial
	}

	if pendingTokens[status] {
		return StatusPending
	}

	return StatusUnknown
}
