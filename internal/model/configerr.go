package model

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrorDetail is one schema violation in a form fit for logging.
type ErrorDetail struct {
	Path    string // launcher.unit_prefix
	Code    string // unknown_field | missing_required | conflicting_values | validation_error
	Message string
	Line    int
	Column  int
}

func (d ErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", d.Code),
		slog.String("path", d.Path),
		slog.String("message", d.Message),
		slog.Int("line", d.Line),
		slog.Int("column", d.Column),
	)
}

var (
	reIncomplete = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed = regexp.MustCompile(`(?i)not allowed`)
	reConflict   = regexp.MustCompile(`(?i)conflicting values|empty disjunction|invalid value|out of bound|does not match`)
)

// ErrDetails splits a LoadConfig error into one detail per offending path.
// Errors not coming from CUE are returned as a single validation_error.
func ErrDetails(err error) []ErrorDetail {
	if err == nil {
		return nil
	}
	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		return []ErrorDetail{{Code: "validation_error", Message: err.Error()}}
	}

	seen := make(map[string]struct{})
	var out []ErrorDetail
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(trimDefinition(e.Path()), ".")
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}

		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		d := ErrorDetail{
			Path:    path,
			Code:    classify(raw),
			Message: raw,
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() == "config.yaml" {
				d.Line, d.Column = pos.Line(), pos.Column()
				break
			}
		}
		out = append(out, d)
	}
	return out
}

func classify(raw string) string {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field"
	case reIncomplete.MatchString(raw):
		return "missing_required"
	case reConflict.MatchString(raw):
		return "conflicting_values"
	default:
		return "validation_error"
	}
}

func trimDefinition(p []string) []string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		return p[1:]
	}
	return p
}
