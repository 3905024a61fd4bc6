package models

// ReportSource tells where a daily report was read from.
type ReportSource string

const (
	SourceLive    ReportSource = "live"
	SourceDurable ReportSource = "durable"
)

// HamsterStats is one hamster's line in a daily report.
type HamsterStats struct {
	TotalRounds int64 `json:"totalRounds"`
	IsActive    bool  `json:"isActive"`
}

// NewHamsterStats applies the activity rule: a hamster is active when it ran
// strictly more rounds than the threshold.
func NewHamsterStats(totalRounds, activeThreshold int64) HamsterStats {
	return HamsterStats{
		TotalRounds: totalRounds,
		IsActive:    totalRounds > activeThreshold,
	}
}

// DailyReport is returned by GET /report/daily.
type DailyReport struct {
	Date     Date                    `json:"date"`
	Source   ReportSource            `json:"source"`
	Hamsters map[string]HamsterStats `json:"hamsters"`
}

// DailyStatRow is one persisted (date, hamster) row.
type DailyStatRow struct {
	Date        Date
	HamsterID   string
	TotalRounds int64
	IsActive    bool
}
