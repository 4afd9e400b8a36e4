package models

import "time"

// EventType names a dashboard stream event
type EventType string

const (
	EventRoleChanged  EventType = "role"
	EventPageAttached EventType = "page.attached"
	EventPageDetached EventType = "page.detached"
	EventInjected     EventType = "page.injected"
	EventClick        EventType = "click"
	EventBlocked      EventType = "blocked"
	EventTabRotated   EventType = "tab.rotated"
)

// Event is pushed to dashboard clients over the event stream
type Event struct {
	Type   EventType      `json:"type"`
	PageID string         `json:"pageId,omitempty"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}
