package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ValidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every 5 minutes", "*/5 * * * *"},
		{"weekday business hours", "0 9-17 * * 1-5"},
		{"every duration", "@every 5m"},
		{"hourly", "@hourly"},
		{"daily", "@daily"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := p.Parse(tt.expr, "")
			require.NoError(t, err)
			assert.NotNil(t, sched)
			assert.NoError(t, p.Validate(tt.expr))
		})
	}
}

func TestParser_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"four fields", "* * * *"},
		{"six fields", "* * * * * *"},
		{"invalid hour 25", "0 25 * * *"},
		{"bad duration", "@every soon"},
		{"unknown descriptor", "@fortnightly"},
		{"empty", ""},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.expr, "UTC")
			assert.Error(t, err)
			assert.Error(t, p.Validate(tt.expr))
		})
	}
}

func TestParser_InvalidTimezone(t *testing.T) {
	_, err := NewParser().Parse("@hourly", "Invalid/Zone")
	assert.Error(t, err)
}

func TestParser_EveryDescriptorNext(t *testing.T) {
	sched, err := NewParser().Parse("@every 5m", "")
	require.NoError(t, err)

	after := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, after.Add(5*time.Minute), sched.Next(after))
}

func TestParser_NextInTimezone(t *testing.T) {
	sched, err := NewParser().Parse("0 10 * * *", "Asia/Tokyo")
	require.NoError(t, err)

	// 10:00 JST is 01:00 UTC.
	after := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	assert.Equal(t, time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.UTC, next.Location())
}
