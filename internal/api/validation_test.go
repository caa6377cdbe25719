package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchedule_NormalizesToUTC(t *testing.T) {
	start, end, err := validateSchedule(ScheduleRequest{
		StartTime: "2024-06-01T22:00:00+02:00",
		EndTime:   "2024-06-02T00:00:00+02:00",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.UTC, end.Location())
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"", DefaultLimit, 0, false},
		{"?limit=0", DefaultLimit, 0, false},
		{"?limit=10&offset=20", 10, 20, false},
		{"?limit=500", 500, 0, false},
		{"?limit=501", 0, 0, true},
		{"?offset=x", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			limit, offset, err := parsePagination(httptest.NewRequest("GET", "/x"+tt.query, nil))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}
