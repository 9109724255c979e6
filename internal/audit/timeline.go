package audit

import "time"

// TimelineFilters narrows the audit timeline. From is inclusive, To exclusive.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// Entry is one administrative change as recorded by the auditor.
type Entry struct {
	At       time.Time      `json:"at"`
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo is the cursor metadata returned with a timeline page.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Query is a filtered window over the audit log, newest first. Limit 0
// returns every matching entry.
type Query struct {
	TimelineFilters
	Offset int
	Limit  int
}

func (q Query) matches(e Entry) bool {
	if !q.From.IsZero() && e.At.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.At.Before(q.To) {
		return false
	}
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	if q.Entity != "" && e.Entity != q.Entity {
		return false
	}
	return q.Action == "" || e.Action == q.Action
}
