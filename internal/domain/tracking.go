package domain

import "time"

// TrackingEventType enumerates delivery events flowing through the pipeline.
type TrackingEventType string

const (
	EventDelivered   TrackingEventType = "delivered"
	EventOpen        TrackingEventType = "open"
	EventClick       TrackingEventType = "click"
	EventBounce      TrackingEventType = "bounce"
	EventComplaint   TrackingEventType = "complaint"
	EventUnsubscribe TrackingEventType = "unsubscribe"
)

// DeviceType is a coarse device classification derived from the user agent.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

// EventContext carries the request-side details of a tracking hit.
type EventContext struct {
	IP         string     `json:"ip"`
	UserAgent  string     `json:"user_agent"`
	Device     DeviceType `json:"device"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// TrackingEvent is the queue payload carried from the tracking endpoints to
// the delivery event processor.
type TrackingEvent struct {
	Type         TrackingEventType `json:"type"`
	SendRecordID string            `json:"send_record_id"`
	RecipientID  string            `json:"recipient_id"`
	URL          string            `json:"url,omitempty"`
	BounceKind   BounceKind        `json:"bounce_kind,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Context      EventContext      `json:"context"`
}
