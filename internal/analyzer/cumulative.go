package analyzer

import (
	"math"

	"github.com/ppiankov/drivespectre/internal/models"
)

// DaysPerYear annualizes the failure rate. Leap years are not special-cased.
const DaysPerYear = 365

// AnnualizedFailureRate returns failures per drive-year as a percentage,
// rounded to two decimals. Zero drive-days yields zero.
func AnnualizedFailureRate(failures, driveDays int64) float64 {
	if driveDays <= 0 {
		return 0
	}
	rate := float64(failures) / float64(driveDays) * DaysPerYear * 100
	return math.Round(rate*100) / 100
}

// Cumulate walks date-ordered records and returns the running history.
// degenerate counts days whose cumulative drive-days were still zero.
func Cumulate(records []models.DailyAggregatedRecord) (history []models.CumulativeState, degenerate int) {
	history = make([]models.CumulativeState, 0, len(records))

	var driveDays, failures int64
	for i, rec := range records {
		driveDays += rec.DriveCount
		failures += rec.FailureCount
		if driveDays == 0 {
			degenerate++
		}

		history = append(history, models.CumulativeState{
			Model:               rec.Model,
			Date:                rec.Date,
			DayIndex:            i + 1,
			CumulativeDriveDays: driveDays,
			CumulativeFailures:  failures,
			AFRPercent:          AnnualizedFailureRate(failures, driveDays),
		})
	}

	return history, degenerate
}
