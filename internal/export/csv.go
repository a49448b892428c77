// Package export writes session data to CSV with cooperative cancellation.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ghalamif/TensileFlow/internal/domain"
)

// Outcome distinguishes a user cancel from an I/O failure.
type Outcome int

const (
	Complete Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Result reports how many data rows reached the destination.
type Result struct {
	Rows    int     `json:"rows"`
	Outcome Outcome `json:"outcome"`
	Path    string  `json:"path,omitempty"`
}

// Column is one CSV column.
type Column struct {
	Header string
	Value  func(p domain.Point) string
}

// DefaultColumns is the layout of an exported tensile session.
func DefaultColumns() []Column {
	return []Column{
		{Header: "timestamp", Value: func(p domain.Point) string { return strconv.FormatInt(p.Time.UnixMilli(), 10) }},
		{Header: "force", Value: func(p domain.Point) string { return formatFloat(p.Y) }},
		{Header: "displacement", Value: func(p domain.Point) string { return formatFloat(p.X) }},
	}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// Progress is called after every data row with the running row count.
type Progress func(rows int)

// Write streams points to w as CSV. The token is checked before each row;
// on cancel the rows already written are flushed and the result is
// Cancelled with ErrCancelled. Rows are only ever written whole.
func Write(w io.Writer, points []domain.Point, cols []Column, tok *Token, progress Progress) (Result, error) {
	if len(cols) == 0 {
		cols = DefaultColumns()
	}
	cw := csv.NewWriter(w)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Header
	}
	if err := cw.Write(header); err != nil {
		return Result{Outcome: Failed}, fmt.Errorf("export: write header: %w", err)
	}

	res := Result{}
	row := make([]string, len(cols))
	for _, p := range points {
		if tok != nil && tok.Cancelled() {
			return finish(cw, res, Cancelled, tok.Err())
		}
		for i, c := range cols {
			row[i] = c.Value(p)
		}
		if err := cw.Write(row); err != nil {
			res.Outcome = Failed
			return res, fmt.Errorf("export: write row %d: %w", res.Rows, err)
		}
		res.Rows++
		if progress != nil {
			progress(res.Rows)
		}
	}
	return finish(cw, res, Complete, nil)
}

func finish(cw *csv.Writer, res Result, outcome Outcome, cause error) (Result, error) {
	cw.Flush()
	if err := cw.Error(); err != nil {
		res.Outcome = Failed
		return res, fmt.Errorf("export: flush: %w", err)
	}
	res.Outcome = outcome
	if outcome == Cancelled {
		if cause == nil || !errors.Is(cause, ErrCancelled) {
			cause = errors.Join(ErrCancelled, cause)
		}
		return res, cause
	}
	return res, nil
}
