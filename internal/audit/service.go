package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	// MaxExportRows caps a single CSV export.
	MaxExportRows = 5000
)

// WindowParams are the bound query arguments. Invalid values disable the filter.
type WindowParams struct {
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	Actor      pgtype.Int8
	TargetType pgtype.Text
	TargetID   pgtype.Text
	Action     pgtype.Text
	OffsetRows int32
	LimitRows  int32
}

// Repository reads the audit trail.
type Repository interface {
	TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error)
}

// Service pages through audit_logs.
type Service struct {
	repo Repository
}

// NewService builds the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := windowParams(filters)
	params.OffsetRows = int32((page - 1) * pageSize)
	params.LimitRows = int32(pageSize + 1)

	rows, err := s.repo.TimelineWindow(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("audit: timeline: %w", err)
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching row up to MaxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	params := windowParams(filters)
	params.LimitRows = MaxExportRows
	rows, err := s.repo.TimelineWindow(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("audit: export: %w", err)
	}
	return rows, nil
}

func windowParams(filters TimelineFilters) WindowParams {
	p := WindowParams{
		FromAt:     toPgTime(filters.From),
		ToAt:       toPgTime(filters.To),
		TargetType: optionalText(filters.TargetType),
		TargetID:   optionalText(filters.TargetID),
		Action:     optionalText(strings.ToUpper(filters.Action)),
	}
	if filters.ActorID > 0 {
		p.Actor = pgtype.Int8{Int64: filters.ActorID, Valid: true}
	}
	return p
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
