// Package audit serves the change history recorded by the services.
package audit

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/schoolledger/schoolledger/internal/shared"
)

// Source lists recorded entries, newest first.
type Source interface {
	List(ctx context.Context, entityID string, limit int) ([]shared.AuditLog, error)
}

// TimelineFilters narrows the timeline. Empty fields match everything.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// Result is one page of the timeline.
type Result struct {
	Rows   []shared.AuditLog `json:"rows"`
	Paging shared.Pagination `json:"paging"`
}

// Service filters and pages audit entries.
type Service struct {
	source Source
}

// NewService builds Service instance.
func NewService(source Source) *Service {
	return &Service{source: source}
}

// Timeline returns one page of matching entries.
func (s *Service) Timeline(ctx context.Context, f TimelineFilters) (Result, error) {
	rows, err := s.Export(ctx, f)
	if err != nil {
		return Result{}, err
	}
	paging := shared.NewPagination(f.Page, f.PageSize, len(rows))
	start, end := paging.Bounds()
	return Result{Rows: rows[start:end], Paging: paging}, nil
}

// Export returns every matching entry.
func (s *Service) Export(ctx context.Context, f TimelineFilters) ([]shared.AuditLog, error) {
	all, err := s.source.List(ctx, f.EntityID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]shared.AuditLog, 0, len(all))
	for _, e := range all {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f TimelineFilters) matches(e shared.AuditLog) bool {
	switch {
	case !f.From.IsZero() && e.At.Before(f.From):
		return false
	case !f.To.IsZero() && !e.At.Before(f.To):
		return false
	case f.Actor != "" && !strings.EqualFold(e.Actor, f.Actor):
		return false
	case f.Entity != "" && e.Entity != f.Entity:
		return false
	case f.Action != "" && !strings.HasPrefix(e.Action, f.Action):
		return false
	}
	return true
}

// WriteCSV serialises entries, oldest columns first.
func WriteCSV(w io.Writer, rows []shared.AuditLog) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"At", "Actor", "Action", "Entity", "Entity ID"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			row.Actor,
			row.Action,
			row.Entity,
			row.EntityID,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
