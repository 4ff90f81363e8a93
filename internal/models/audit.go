package models

import "time"

// DecisionCounts tallies allowed and denied decisions.
type DecisionCounts struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Total returns allowed plus denied.
func (c DecisionCounts) Total() int64 { return c.Allowed + c.Denied }

// AuditSummary aggregates recorded filter decisions.
type AuditSummary struct {
	Since        time.Time                 `json:"since"`
	Totals       DecisionCounts            `json:"totals"`
	ByRole       map[string]DecisionCounts `json:"by_role"`
	ByDepartment map[string]DecisionCounts `json:"by_department"`
	Requests     int64                     `json:"requests"`
}
