package models

// Counter names kept in the session metrics hash.
const (
	MetricCreated            = "created"
	MetricRegenerated        = "regenerated"
	MetricExpiredInactivity  = "expired_inactivity"
	MetricExpiredMaxAge      = "expired_max_age"
	MetricSecurityViolations = "security_violations"
	MetricRevoked            = "revoked"
	MetricLogouts            = "logouts"
	MetricSwept              = "swept"
)

type SessionStats struct {
	Active                 int64            `json:"active"`
	DistinctUsers          int64            `json:"distinctUsers"`
	AverageRequests        float64          `json:"averageRequests"`
	OldestSessionAgeSecond int64            `json:"oldestSessionAgeSeconds"`
	Counters               map[string]int64 `json:"counters"`
	Store                  string           `json:"store"`
}
