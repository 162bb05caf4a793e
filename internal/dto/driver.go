package dto

import "time"

// PresenceRequest is a driver heartbeat.
type PresenceRequest struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Score     float64  `json:"score"`
}

// DriverResponse is a presence entry.
type DriverResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Score     float64   `json:"score"`
	LastSeen  time.Time `json:"last_seen"`
}
