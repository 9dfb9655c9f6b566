package model

import (
	"math"
)

// RunStatistics is a process-wide snapshot of the current run, reset at
// each start
type RunStatistics struct {
	TotalCompleted int     `json:"total_completed"`
	TotalFailed    int     `json:"total_failed"`
	SuccessRate    float64 `json:"success_rate"`
	ActiveWorkers  int     `json:"active_workers"`
	IsRunning      bool    `json:"is_running"`
}

// SuccessRate returns the completion percentage rounded to one decimal,
// or 0 when no tasks have finished yet
func SuccessRate(completed, failed int) float64 {
	total := completed + failed
	if total == 0 {
		return 0
	}
	rate := float64(completed) / float64(total) * 100
	return math.Round(rate*10) / 10
}
