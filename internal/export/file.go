package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghalamif/TensileFlow/internal/domain"
)

// PartialSuffix marks a file whose export did not complete.
const PartialSuffix = ".partial"

// ToFile exports points to dir/<name>.csv. A cancelled or failed export is
// kept as <name>.csv.partial so it is never mistaken for a full one.
func ToFile(dir, name string, points []domain.Point, cols []Column, tok *Token, progress Progress) (Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Outcome: Failed}, fmt.Errorf("export: create dir: %w", err)
	}
	final := filepath.Join(dir, FileName(name))
	tmp := final + PartialSuffix

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{Outcome: Failed}, fmt.Errorf("export: open: %w", err)
	}
	res, werr := Write(f, points, cols, tok, progress)
	if cerr := f.Close(); cerr != nil && werr == nil {
		res.Outcome = Failed
		werr = fmt.Errorf("export: close: %w", cerr)
	}
	if werr != nil {
		res.Path = tmp
		return res, werr
	}
	if err := os.Rename(tmp, final); err != nil {
		res.Outcome = Failed
		res.Path = tmp
		return res, fmt.Errorf("export: rename: %w", err)
	}
	res.Path = final
	return res, nil
}

// FileName turns a session name into a safe CSV file name.
func FileName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(name))
	if clean == "" {
		clean = "session"
	}
	return clean + ".csv"
}

// IsCancelled reports whether err came from a cancelled export.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }
