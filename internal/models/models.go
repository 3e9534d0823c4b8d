package models

import "time"

// VisitorProfile is the locally cached summary of a visitor, rewritten on
// every page load.
type VisitorProfile struct {
	LastVisit         string `json:"lastVisit"`
	TotalVisits       int    `json:"totalVisits"`
	FirstVisit        string `json:"firstVisit"`
	PreferredLanguage string `json:"preferredLanguage"`
	DeviceType        string `json:"deviceType"` // mobile|tablet|desktop
}

// QueueEntry is a record waiting in the local retry queue.
type QueueEntry struct {
	Payload    Record    `json:"data"`
	EnqueuedAt time.Time `json:"timestamp"`
	RetryCount int       `json:"retryCount"`
}
