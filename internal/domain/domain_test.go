package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventStatus_Values(t *testing.T) {
	tests := []struct {
		status EventStatus
		want   string
	}{
		{EventStatusUnlisted, "unlisted"},
		{EventStatusAnnounced, "announced"},
		{EventStatusPreliminary, "preliminary"},
		{EventStatusStarted, "started"},
		{EventStatusConcluded, "concluded"},
		{EventStatusCanceled, "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestEventStatus_Schedulable(t *testing.T) {
	assert.True(t, EventStatusAnnounced.Schedulable())
	assert.True(t, EventStatusPreliminary.Schedulable())
	assert.False(t, EventStatusUnlisted.Schedulable())
	assert.False(t, EventStatusStarted.Schedulable())
	assert.False(t, EventStatusCanceled.Schedulable())
}

func TestTriggerPurpose_Window(t *testing.T) {
	w, ok := TriggerRemindOneDay.Window()
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, w.Lead())

	w, ok = TriggerRemindThirtyMinutes.Window()
	assert.True(t, ok)
	assert.Equal(t, 30*time.Minute, w.Lead())

	_, ok = TriggerStart.Window()
	assert.False(t, ok)
	assert.False(t, TriggerEnd.IsReminder())
}

func TestAllTriggerPurposes_Distinct(t *testing.T) {
	seen := make(map[TriggerPurpose]bool)
	for _, p := range AllTriggerPurposes {
		assert.False(t, seen[p], "duplicate purpose %s", p)
		seen[p] = true
	}
	assert.Len(t, seen, 5)
}

func TestFollowFilter_Matches(t *testing.T) {
	prefs := FollowPreferences{AtStart: true}

	assert.True(t, FilterNone.Matches(prefs))
	assert.True(t, FilterAtStart.Matches(prefs))
	assert.False(t, FilterAtOneHour.Matches(prefs))
	assert.False(t, FilterAtOneDay.Matches(FollowPreferences{}))
}
