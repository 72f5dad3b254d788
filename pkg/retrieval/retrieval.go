// Package retrieval lists stored messages for a user supplied date.
package retrieval

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sw33tLie/chatscope/pkg/dates"
	"github.com/sw33tLie/chatscope/pkg/source"
	"github.com/sw33tLie/chatscope/pkg/storage"
)

// Fetcher is the read side of *storage.DB.
type Fetcher interface {
	FetchByDate(ctx context.Context, date string, dir storage.Direction) ([]storage.Message, error)
}

// Result is one of QueryResult, InvalidDate or Empty.
type Result interface {
	result()
}

type QueryResult struct {
	Date      string
	Direction storage.Direction
	Rows      []storage.Message
}

type InvalidDate struct {
	Input string
}

type Empty struct {
	Date      string
	Direction storage.Direction
}

func (QueryResult) result() {}
func (InvalidDate) result() {}
func (Empty) result()       {}

// ListMessages normalizes input and fetches that date's messages. An
// unparseable input yields InvalidDate without touching the store. The only
// error returned is a storage failure.
func ListMessages(ctx context.Context, f Fetcher, input string, dir storage.Direction, now time.Time) (Result, error) {
	date, ok := dates.NormalizeQueryDate(input, now)
	if !ok {
		return InvalidDate{Input: input}, nil
	}
	rows, err := f.FetchByDate(ctx, date, dir)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return Empty{Date: date, Direction: dir}, nil
	}
	return QueryResult{Date: date, Direction: dir, Rows: rows}, nil
}

// Render writes a human readable form of r. When mask is set, sender names
// are reduced to their last four characters.
func Render(w io.Writer, r Result, mask bool) error {
	switch v := r.(type) {
	case InvalidDate:
		_, err := fmt.Fprintf(w, "Invalid date %q. Use YYYY-MM-DD, DD/MM/YYYY, today or yesterday.\n", v.Input)
		return err
	case Empty:
		_, err := fmt.Fprintf(w, "No %smessages on %s.\n", directionLabel(v.Direction), v.Date)
		return err
	case QueryResult:
		fmt.Fprintf(w, "%d %smessages on %s\n\n", len(v.Rows), directionLabel(v.Direction), v.Date)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tDIRECTION\tSENDER\tTEXT")
		for _, m := range v.Rows {
			sender := m.Sender
			if mask {
				sender = source.MaskSender(sender)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Timestamp, m.Direction, sender, strings.ReplaceAll(m.Text, "\n", "  "))
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown result %T", r)
}

func directionLabel(d storage.Direction) string {
	if d == storage.Any {
		return ""
	}
	return string(d) + " "
}
