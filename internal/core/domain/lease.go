package domain

import "time"

// Lease is the shared leadership record
type Lease struct {
	LeaderInstanceID string    `json:"leaderInstanceId"`
	LastHeartbeatAt  time.Time `json:"lastHeartbeatAt"`
}

// Expired reports whether the heartbeat is older than ttl at now
func (l *Lease) Expired(now time.Time, ttl time.Duration) bool {
	return l == nil || l.LeaderInstanceID == "" || now.Sub(l.LastHeartbeatAt) > ttl
}
