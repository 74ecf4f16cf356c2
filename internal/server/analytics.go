package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/agencyops/internal/analytics/domain"
)

func (s *Server) GetCohorts(c *gin.Context) {
	months, err := parseOptionalMonths(c.Query("months"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.analyticsSvc.GetCohorts(c.Request.Context(), analyticsdomain.CohortRequest{Months: months})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cohorts := make([]cohortView, 0, len(resp))
	for _, cohort := range resp {
		cohorts = append(cohorts, cohortView{
			Period:     cohort.Period,
			Start:      cohort.Start.Format(time.RFC3339),
			End:        cohort.End.Format(time.RFC3339),
			TotalUsers: cohort.TotalUsers,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": cohorts})
}

func (s *Server) GetRetentionMatrix(c *gin.Context) {
	months, err := parseOptionalMonths(c.Query("months"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.analyticsSvc.GetRetentionMatrix(c.Request.Context(), analyticsdomain.RetentionRequest{Months: months})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetChurnAnalysis(c *gin.Context) {
	resp, err := s.analyticsSvc.GetChurnAnalysis(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetGrowthMetrics(c *gin.Context) {
	period, err := parseOptionalYearMonth(c.Query("month"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.analyticsSvc.GetGrowthMetrics(c.Request.Context(), analyticsdomain.GrowthRequest{Period: period})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetReport(c *gin.Context) {
	months, err := parseOptionalMonths(c.Query("months"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	period, err := parseOptionalYearMonth(c.Query("month"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.analyticsSvc.GetReport(c.Request.Context(), analyticsdomain.ReportRequest{
		Months: months,
		Period: period,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// cohortView omits member ids from the public payload.
type cohortView struct {
	Period     analyticsdomain.YearMonth `json:"period"`
	Start      string                    `json:"start"`
	End        string                    `json:"end"`
	TotalUsers int                       `json:"total_users"`
}

func isAnalyticsValidationError(err error) bool {
	_, ok := analyticsValidationCode(err)
	return ok
}

// analyticsValidationCode returns the error code of a wrapped analytics input
// error.
func analyticsValidationCode(err error) (string, bool) {
	for _, sentinel := range []error{
		analyticsdomain.ErrInvalidOrganization,
		analyticsdomain.ErrInvalidMonths,
		analyticsdomain.ErrInvalidPeriod,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}
