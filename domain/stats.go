package domain

// CompletionStats aggregates completed work for the history view.
type CompletionStats struct {
	TotalCompleted     int            `json:"total_completed"`
	CompletedThisWeek  int            `json:"completed_this_week"`
	CompletedThisMonth int            `json:"completed_this_month"`
	AvgTimeToComplete  string         `json:"avg_time_to_complete"`
	ByPriority         map[string]int `json:"by_priority"`
}
