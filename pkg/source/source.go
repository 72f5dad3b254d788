// Package source defines the contract between the ingestion loop and the web
// client that renders the monitored conversation.
package source

import (
	"context"
	"errors"
	"strings"

	"github.com/sw33tLie/chatscope/pkg/dates"
)

// UnknownSender is used when the sender cannot be parsed from the metadata.
const UnknownSender = "unknown"

// ErrUnavailable marks a transient failure: the snapshot went stale, the page
// is navigating, or the request timed out. Callers retry after a backoff.
var ErrUnavailable = errors.New("source temporarily unavailable")

// Element is an opaque handle to one rendered message.
type Element interface{}

// Record is what can be read from a rendered message.
type Record struct {
	Sender    string
	Timestamp string // "HH:MM, DD/MM/YYYY"
	Text      string
	Meta      string // raw metadata string, e.g. "[08:56, 08/08/2025] Fulano: "
}

// Source lists the messages currently rendered in the conversation.
type Source interface {
	Name() string
	ListIncoming(ctx context.Context) ([]Element, error)
	ListOutgoing(ctx context.Context) ([]Element, error)
	// Extract returns false when the element lacks a body or metadata.
	Extract(el Element) (Record, bool)
}

// ParseMetadata splits "[HH:MM, DD/MM/YYYY] Sender: " into its timestamp and
// sender. The timestamp is the bracketed part verbatim; the sender falls back
// to UnknownSender.
func ParseMetadata(meta string) (timestamp, sender string) {
	sender = UnknownSender

	trimmed := strings.TrimSpace(meta)
	if strings.HasPrefix(trimmed, "[") {
		if end := strings.Index(trimmed, "]"); end > 0 {
			timestamp = strings.TrimSpace(trimmed[1:end])
			rest := trimmed[end+1:]
			if colon := strings.Index(rest, ":"); colon >= 0 {
				if name := strings.TrimSpace(rest[:colon]); name != "" {
					sender = name
				}
			}
			return timestamp, sender
		}
	}

	if ts, ok := dates.ExtractTimestamp(meta); ok {
		timestamp = ts
	}
	return timestamp, sender
}

// MaskSender hides all but the last four characters of a sender name.
func MaskSender(sender string) string {
	if sender == UnknownSender || sender == "" {
		return UnknownSender
	}
	r := []rune(sender)
	if len(r) > 4 {
		r = r[len(r)-4:]
	}
	return "***" + string(r)
}

// IsUnavailable reports whether err is a transient source failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
