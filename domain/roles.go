package domain

// Role constants shared by the session service and the capability checks.
const (
	RoleAdmin  = "ADMIN"
	RoleLeader = "LEADER"
	RoleUser   = "USER"
)
