// Package api defines the wire types shared by the HTTP view and its clients.
package api

import "phobos.org.uk/ampprobe/internal/debuglog"

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	HistoryCount  int    `json:"history_count"`
}

// ParseResponse is returned by POST /parse.
type ParseResponse struct {
	debuglog.Result
	ThreadID string `json:"thread_id,omitempty"`
}
