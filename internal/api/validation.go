package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

func validateSchedule(req ScheduleRequest) (start, end time.Time, err error) {
	if req.StartTime == "" {
		return start, end, fmt.Errorf("start_time is required")
	}
	if req.EndTime == "" {
		return start, end, fmt.Errorf("end_time is required")
	}

	start, err = time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return start, end, fmt.Errorf("invalid start_time: %w", err)
	}
	end, err = time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return start, end, fmt.Errorf("invalid end_time: %w", err)
	}
	return start.UTC(), end.UTC(), nil
}

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", s)
		}
		if limit > MaxLimit {
			return 0, 0, fmt.Errorf("limit exceeds maximum of %d", MaxLimit)
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", s)
		}
	}

	return limit, offset, nil
}
