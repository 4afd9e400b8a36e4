package models

import "time"

// LockRecord is the shared lock-and-heartbeat record
type LockRecord struct {
	OwnerID         string    `json:"ownerId"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// Role is this process's standing in the election
type Role string

const (
	RoleLeader  Role = "leader"
	RoleStandby Role = "standby"
)

// ElectionStatus is the outcome of one election tick
type ElectionStatus struct {
	Role         Role          `json:"role"`
	OwnerID      string        `json:"ownerId"`
	Self         string        `json:"self"`
	HeartbeatAge time.Duration `json:"heartbeatAge"`
}

// IsLeader reports whether this process may drive pages
func (s ElectionStatus) IsLeader() bool {
	return s.Role == RoleLeader
}
