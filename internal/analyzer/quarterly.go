package analyzer

import (
	"time"

	"github.com/ppiankov/drivespectre/internal/models"
)

// QuarterOf returns the calendar quarter (1-4) of t.
func QuarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

func sameQuarter(a, b time.Time) bool {
	return a.Year() == b.Year() && QuarterOf(a) == QuarterOf(b)
}

// ReduceQuarterly keeps the last state of every quarter present in history.
// history must be date-ascending.
func ReduceQuarterly(history []models.CumulativeState) []models.QuarterlyResult {
	results := make([]models.QuarterlyResult, 0)
	for i, state := range history {
		if i+1 < len(history) && sameQuarter(state.Date, history[i+1].Date) {
			continue
		}
		results = append(results, models.QuarterlyResult{
			Model:               state.Model,
			Year:                state.Date.Year(),
			Quarter:             QuarterOf(state.Date),
			AsOf:                state.Date,
			DayIndex:            state.DayIndex,
			CumulativeDriveDays: state.CumulativeDriveDays,
			CumulativeFailures:  state.CumulativeFailures,
			AFRPercent:          state.AFRPercent,
		})
	}
	return results
}
