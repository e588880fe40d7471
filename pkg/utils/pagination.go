package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// HistoryParams carries cursor pagination parameters for message history.
type HistoryParams struct {
	Limit  int
	Before string
}

// GetHistoryParams extracts cursor pagination parameters from the request.
// "before" is the id of the oldest message the caller already holds.
func GetHistoryParams(c echo.Context) HistoryParams {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	if limit <= 0 || limit > 100 {
		limit = 20 // Default page size
	}

	return HistoryParams{
		Limit:  limit,
		Before: c.QueryParam("before"),
	}
}
