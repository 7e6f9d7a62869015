package httpapi

import "time"

// Config defines the development backend settings.
type Config struct {
	Addr             string
	BasePath         string
	HubHistory       int
	PingInterval     time.Duration
	RecordsPerSecond float64
}
