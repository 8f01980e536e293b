package server

import "time"

type DaemonInfo struct {
	PID          int       `json:"pid"`
	Addr         string    `json:"addr"`
	StoreBackend string    `json:"store_backend"`
	StorePath    string    `json:"store_path,omitempty"`
	Schedule     string    `json:"refresh_schedule,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

type DaemonController interface {
	Info() DaemonInfo
	Shutdown() error
}
