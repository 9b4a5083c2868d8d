package training

import "time"

// etaFallback is returned whenever there is not enough progress to
// extrapolate from.
const etaFallback = time.Hour

// EstimateCompletion projects when a run started at startedAt finishes,
// assuming the average step rate so far holds.
func EstimateCompletion(now, startedAt time.Time, currentStep, totalSteps int) time.Time {
	elapsed := now.Sub(startedAt).Seconds()
	if currentStep <= 0 || totalSteps <= 0 || elapsed <= 0 {
		return now.Add(etaFallback)
	}

	rate := float64(currentStep) / elapsed
	remaining := float64(totalSteps-currentStep) / rate
	if remaining < 0 {
		remaining = 0
	}
	return now.Add(time.Duration(remaining * float64(time.Second)))
}
