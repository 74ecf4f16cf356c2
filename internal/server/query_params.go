package server

import (
	"strconv"
	"strings"

	analyticsdomain "github.com/smallbiznis/agencyops/internal/analytics/domain"
)

// parseOptionalMonths parses the trailing cohort window. Zero means the
// configured default.
func parseOptionalMonths(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 1 || parsed > analyticsdomain.MaxCohortMonths {
		return 0, analyticsdomain.ErrInvalidMonths
	}
	return parsed, nil
}

func parseOptionalYearMonth(value string) (analyticsdomain.YearMonth, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return analyticsdomain.YearMonth{}, nil
	}
	return analyticsdomain.ParseYearMonth(trimmed)
}
