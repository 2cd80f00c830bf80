package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/visionguard/visionguard/internal/stream"
)

// AnomalyEventMsg is the wire shape published for downstream consumers.
// The annotated frame stays off the bus; consumers fetch evidence by ref.
type AnomalyEventMsg struct {
	ShopID         string  `json:"shop_id"`
	StreamID       string  `json:"stream_id"`
	PersonID       int     `json:"person_id"`
	FrameNumber    int64   `json:"frame_number"`
	Score          float64 `json:"score"`
	Classification string  `json:"classification"`
	Confidence     string  `json:"confidence"`
	TSUnixMS       int64   `json:"ts_unix_ms"`
}

// Publisher fans anomaly events out on NATS subjects
// {prefix}.{shop_id}.
type Publisher struct {
	conn       *nats.Conn
	prefix     string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, prefix string, maxRetries int) *Publisher {
	return &Publisher{
		conn:       conn,
		prefix:     prefix,
		maxRetries: maxRetries,
	}
}

// PublishAnomaly implements hub.EventPublisher.
func (p *Publisher) PublishAnomaly(alert stream.AnomalyAlert) error {
	msg := AnomalyEventMsg{
		ShopID:         alert.ShopID,
		StreamID:       alert.StreamID,
		PersonID:       alert.Result.PersonID,
		FrameNumber:    alert.Result.FrameNumber,
		Score:          alert.Result.Score,
		Classification: alert.Result.Classification,
		Confidence:     alert.Result.Confidence,
		TSUnixMS:       time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, alert.ShopID)
	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
