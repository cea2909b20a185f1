package types

import "time"

// UnlockCommand asks the actuator for one open window.
type UnlockCommand struct {
	Duration    time.Duration
	RequestedAt time.Time
}

// Status is the controller snapshot served over HTTP.
type Status struct {
	Hardware         string `json:"hardware"`
	Unlocked         bool   `json:"unlocked"`
	LastUnauthorized string `json:"last_unauthorized,omitempty"`
	FramesDecoded    uint64 `json:"frames_decoded"`
	FramesDropped    uint64 `json:"frames_dropped"`
	ServerTime       string `json:"server_time"`
}
