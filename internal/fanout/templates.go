package fanout

import (
	"strings"
	"time"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
)

// Template is the title and description of one notification kind.
// Supported tokens: {event}, {group}, {star}, {start}.
type Template struct {
	Title       string
	Description string
}

// Templates maps a notification kind to its text.
type Templates map[domain.NotificationKind]Template

func DefaultTemplates() Templates {
	return Templates{
		domain.KindEventStarted: {
			Title:       "{event} is live",
			Description: "{event} by {group} has started.",
		},
		domain.KindEventCancelled: {
			Title:       "{event} was cancelled",
			Description: "{group} cancelled {event}.",
		},
		domain.KindEventReminderOneDay: {
			Title:       "{event} starts tomorrow",
			Description: "{event} by {group} starts at {start}.",
		},
		domain.KindEventReminderOneHour: {
			Title:       "{event} starts in an hour",
			Description: "{event} by {group} starts at {start}.",
		},
		domain.KindEventReminderThirtyMinutes: {
			Title:       "{event} starts in 30 minutes",
			Description: "{event} by {group} starts at {start}.",
		},
		domain.KindStarInvited: {
			Title:       "You're invited to {event}",
			Description: "{group} invited you to perform at {event}.",
		},
		domain.KindStarConfirmed: {
			Title:       "{star} is performing at {event}",
			Description: "{star} will perform at {event} by {group}, starting {start}.",
		},
	}
}

const startLayout = "Mon Jan 2 15:04 MST"

type tokens struct {
	event string
	group string
	star  string
	start *time.Time
}

func (t tokens) replacer() *strings.Replacer {
	start := "TBA"
	if t.start != nil {
		start = t.start.UTC().Format(startLayout)
	}
	return strings.NewReplacer(
		"{event}", t.event,
		"{group}", t.group,
		"{star}", t.star,
		"{start}", start,
	)
}

// render fills the template of kind. Unknown kinds render to the kind name.
func (ts Templates) render(kind domain.NotificationKind, tok tokens) (title, description string) {
	tpl, ok := ts[kind]
	if !ok {
		return string(kind), ""
	}
	r := tok.replacer()
	return r.Replace(tpl.Title), r.Replace(tpl.Description)
}
