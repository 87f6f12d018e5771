package ports

import "time"

// Notifier defines the interface for sending notifications to external systems
type Notifier interface {
	// NotifyRiskCreated sends notification for a newly created dynamic risk
	NotifyRiskCreated(n RiskNotification) error

	// NotifyRiskPromoted sends notification when a risk is auto-promoted
	NotifyRiskPromoted(n RiskNotification) error

	// NotifyAttribution sends notification for a high-confidence cluster attribution
	NotifyAttribution(n AttributionNotification) error
}

// Notification data structures

type RiskNotification struct {
	RiskID     string
	Title      string
	State      string
	Confidence float64
	Sources    []string
	Tags       []string
}

type AttributionNotification struct {
	ClusterID   string
	ClusterType string
	Actor       string
	Campaign    string
	Confidence  float64
	MemberCount int
	RiskLevel   string
	CreatedAt   time.Time
}
