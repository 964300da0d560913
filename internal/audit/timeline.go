package audit

import "time"

// TimelineFilters narrows the audit trail.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	ActorID    int64
	TargetType string
	TargetID   string
	Action     string
	Page       int
	PageSize   int
}

// TimelineRow is one audit_logs record.
type TimelineRow struct {
	ID         int64          `json:"id"`
	At         time.Time      `json:"at"`
	ActorID    int64          `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	Category   string         `json:"category"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Severity   string         `json:"severity"`
	Details    map[string]any `json:"details,omitempty"`
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps one timeline page.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}
