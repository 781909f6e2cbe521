package model

import "time"

// JobReport describes one finished run of a scheduled job.
type JobReport struct {
	Job        string    `json:"job"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

func (r JobReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r JobReport) Failed() bool {
	return r.Error != ""
}
