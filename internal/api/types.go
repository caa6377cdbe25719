package api

import (
	"time"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
)

type ScheduleRequest struct {
	StartTime string `json:"start_time"` // RFC3339
	EndTime   string `json:"end_time"`   // RFC3339
}

type EventResponse struct {
	ID              string  `json:"id"`
	GroupID         string  `json:"group_id"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	AutoStart       bool    `json:"auto_start"`
	StartTime       *string `json:"start_time"`
	EndTime         *string `json:"end_time"`
	ScheduleVersion int64   `json:"schedule_version"`
	UpdatedAt       string  `json:"updated_at"`
}

type ParticipantResponse struct {
	EventID   string `json:"event_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

type NotificationResponse struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subject_id"`
	SubjectType string `json:"subject_type"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	Read        bool   `json:"read"`
}

type ListNotificationsResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:              e.ID.String(),
		GroupID:         e.GroupID.String(),
		Name:            e.Name,
		Status:          string(e.Status),
		AutoStart:       e.AutoStart,
		StartTime:       formatOptional(e.StartTime),
		EndTime:         formatOptional(e.EndTime),
		ScheduleVersion: e.ScheduleVersion,
		UpdatedAt:       formatTime(e.UpdatedAt),
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:          n.ID.String(),
		SubjectID:   n.SubjectID.String(),
		SubjectType: string(n.SubjectType),
		Kind:        string(n.Kind),
		Title:       n.Title,
		Description: n.Description,
		CreatedAt:   formatTime(n.CreatedAt),
		Read:        n.Read,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
