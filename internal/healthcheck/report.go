package healthcheck

import "context"

// Report is the combined result of several checkers.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Healthy reports whether no check failed. Warnings count as healthy.
func (r Report) Healthy() bool {
	return r.Status != StatusError
}

// Aggregate runs every checker and folds their results into one report whose
// status is the worst status seen.
func Aggregate(ctx context.Context, checkers ...Checker) Report {
	report := Report{Status: StatusOK, Checks: []CheckResult{}}
	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		for _, item := range checker.ListChecks(ctx) {
			if item.Status == "" {
				item.Status = StatusUnknown
			}
			report.Checks = append(report.Checks, item)
			if severity(item.Status) > severity(report.Status) {
				report.Status = item.Status
			}
		}
	}
	return report
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusUnknown:
		return 1
	case StatusWarn:
		return 2
	case StatusError:
		return 3
	default:
		return 1
	}
}
