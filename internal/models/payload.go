package models

import "time"

// Payload is the flat record pushed to subscribers and returned by read endpoints.
type Payload struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Magnitude float64 `json:"magnitude"`
	Depth     float64 `json:"depth"`
	Place     string  `json:"place"`
	Time      string  `json:"time"` // ISO-8601
	Status    string  `json:"status"`
}

func (e *Event) Payload() Payload {
	return Payload{
		ID:        e.ID,
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Magnitude: e.Magnitude,
		Depth:     e.Depth,
		Place:     e.Place,
		Time:      e.Time.UTC().Format(time.RFC3339),
		Status:    string(e.Severity),
	}
}

func Payloads(events []Event) []Payload {
	out := make([]Payload, len(events))
	for i := range events {
		out[i] = events[i].Payload()
	}
	return out
}
