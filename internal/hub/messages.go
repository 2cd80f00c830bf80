package hub

import (
	"time"

	"github.com/visionguard/visionguard/internal/stream"
)

// WebSocket close codes used by the alert channel.
const (
	CloseNormal           = 1000
	CloseSuperseded       = 4000
	CloseHeartbeatTimeout = 4001
	CloseUnauthorized     = 4401
)

const (
	msgTypePing    = "ping"
	msgTypePong    = "pong"
	msgTypeAck     = "ack"
	msgTypeAnomaly = "anomaly_detected"
)

type pingMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type anomalyMessage struct {
	Type           string        `json:"type"`
	UserID         string        `json:"user_id"`
	StreamID       string        `json:"stream_id"`
	Result         stream.Result `json:"result"`
	AnnotatedFrame string        `json:"annotated_frame"`
	FrameFormat    string        `json:"frame_format"`
}

type inboundMessage struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// ConnStats is the observability shape for one user's channel.
type ConnStats struct {
	UserID                string    `json:"user_id"`
	Connected             bool      `json:"connected"`
	ConnectedAt           time.Time `json:"connected_at"`
	UptimeSeconds         float64   `json:"uptime_seconds"`
	LastHeartbeatAt       time.Time `json:"last_heartbeat_at"`
	SecondsSinceHeartbeat float64   `json:"seconds_since_heartbeat"`
}
