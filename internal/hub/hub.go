package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visionguard/visionguard/internal/metrics"
	"github.com/visionguard/visionguard/internal/stream"
)

const (
	writeWait        = 10 * time.Second
	alertJPEGQuality = 85
)

type Config struct {
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
	MailboxSize      int
}

// Notifier is the optional secondary sink invoked best-effort after the
// primary WebSocket push.
type Notifier interface {
	NotifyAnomaly(ctx context.Context, alert stream.AnomalyAlert)
}

// EventPublisher mirrors anomaly events onto the event bus.
type EventPublisher interface {
	PublishAnomaly(alert stream.AnomalyAlert) error
}

type connection struct {
	userID      string
	ws          *websocket.Conn
	mailbox     chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *connection) heartbeatAge() (time.Time, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat, time.Since(c.lastHeartbeat)
}

// Hub owns one persistent alert channel per user. All writes to a channel
// go through its single writer goroutine consuming a bounded mailbox, so
// delivery order per user matches submission order.
type Hub struct {
	cfg       Config
	notifier  Notifier
	publisher EventPublisher

	mu    sync.Mutex
	conns map[string]*connection
}

func New(cfg Config, notifier Notifier, publisher EventPublisher) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 16
	}
	return &Hub{
		cfg:       cfg,
		notifier:  notifier,
		publisher: publisher,
		conns:     make(map[string]*connection),
	}
}

// SetNotifier wires the optional external sink.
func (h *Hub) SetNotifier(n Notifier) { h.notifier = n }

// SetPublisher wires the optional event bus.
func (h *Hub) SetPublisher(p EventPublisher) { h.publisher = p }

// Attach registers a freshly upgraded, already authenticated connection.
// A prior channel for the same user is closed with code 4000 (superseded).
func (h *Hub) Attach(userID string, ws *websocket.Conn) {
	conn := &connection{
		userID:      userID,
		ws:          ws,
		mailbox:     make(chan []byte, h.cfg.MailboxSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	conn.touch()

	h.mu.Lock()
	old := h.conns[userID]
	h.conns[userID] = conn
	metrics.SetHubConnections(len(h.conns))
	h.mu.Unlock()

	if old != nil {
		log.Printf("[Hub] Superseding channel for user %s", userID)
		h.closeConn(old, CloseSuperseded, "superseded")
	}

	go h.writeLoop(conn)
	go h.readLoop(conn)
	go h.heartbeatLoop(conn)

	log.Printf("[Hub] User %s attached", userID)
}

// Detach removes the connection if it is still the current one for its user.
func (h *Hub) Detach(conn *connection) {
	h.mu.Lock()
	if h.conns[conn.userID] == conn {
		delete(h.conns, conn.userID)
		metrics.SetHubConnections(len(h.conns))
	}
	h.mu.Unlock()
}

func (h *Hub) current(userID string) *connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[userID]
}

// Publish implements stream.Alerter. The send blocks on the user's mailbox;
// with no open channel for the user the alert is dropped silently.
func (h *Hub) Publish(ctx context.Context, alert stream.AnomalyAlert) error {
	msg, err := encodeAnomaly(alert)
	if err != nil {
		return err
	}

	conn := h.current(alert.UserID)
	if conn != nil {
		select {
		case conn.mailbox <- msg:
			metrics.RecordAlertDelivered()
		case <-conn.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Secondary sinks never block the primary path.
	if h.notifier != nil {
		go h.notifier.NotifyAnomaly(context.Background(), alert)
	}
	if h.publisher != nil {
		go func() {
			if err := h.publisher.PublishAnomaly(alert); err != nil {
				log.Printf("[Hub] Event publish failed: %v", err)
			}
		}()
	}
	return nil
}

func encodeAnomaly(alert stream.AnomalyAlert) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, alert.Annotated, &jpeg.Options{Quality: alertJPEGQuality}); err != nil {
		return nil, err
	}
	return json.Marshal(anomalyMessage{
		Type:           msgTypeAnomaly,
		UserID:         alert.UserID,
		StreamID:       alert.StreamID,
		Result:         alert.Result,
		AnnotatedFrame: base64.StdEncoding.EncodeToString(buf.Bytes()),
		FrameFormat:    "jpeg",
	})
}

func (h *Hub) writeLoop(conn *connection) {
	for {
		select {
		case msg := <-conn.mailbox:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[Hub] Write to user %s failed: %v", conn.userID, err)
				h.closeConn(conn, CloseNormal, "write_failed")
				return
			}
		case <-conn.done:
			return
		}
	}
}

func (h *Hub) readLoop(conn *connection) {
	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			h.closeConn(conn, CloseNormal, "read_closed")
			return
		}
		// Receipt of any client message counts as a heartbeat.
		conn.touch()

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case msgTypePong:
		case msgTypeAck:
			log.Printf("[Hub] Ack from user %s for stream %s", conn.userID, msg.StreamID)
		}
	}
}

func (h *Hub) heartbeatLoop(conn *connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, age := conn.heartbeatAge(); age > h.cfg.HeartbeatTimeout {
				log.Printf("[Hub] Heartbeat timeout for user %s (%.0fs)", conn.userID, age.Seconds())
				h.closeConn(conn, CloseHeartbeatTimeout, "heartbeat_timeout")
				return
			}
			ping, _ := json.Marshal(pingMessage{
				Type:      msgTypePing,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			select {
			case conn.mailbox <- ping:
			case <-conn.done:
				return
			}
		case <-conn.done:
			return
		}
	}
}

func (h *Hub) closeConn(conn *connection, code int, reason string) {
	conn.closeOnce.Do(func() {
		// WriteControl is safe alongside the writer goroutine.
		conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		conn.ws.Close()
		close(conn.done)
	})
	h.Detach(conn)
}

// Stats reports one user's channel state.
func (h *Hub) Stats(userID string) (ConnStats, bool) {
	conn := h.current(userID)
	if conn == nil {
		return ConnStats{UserID: userID}, false
	}
	last, age := conn.heartbeatAge()
	return ConnStats{
		UserID:                userID,
		Connected:             true,
		ConnectedAt:           conn.connectedAt,
		UptimeSeconds:         time.Since(conn.connectedAt).Seconds(),
		LastHeartbeatAt:       last,
		SecondsSinceHeartbeat: age.Seconds(),
	}, true
}

// StatsAll reports every open channel.
func (h *Hub) StatsAll() []ConnStats {
	h.mu.Lock()
	userIDs := make([]string, 0, len(h.conns))
	for id := range h.conns {
		userIDs = append(userIDs, id)
	}
	h.mu.Unlock()

	out := make([]ConnStats, 0, len(userIDs))
	for _, id := range userIDs {
		if s, ok := h.Stats(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// CloseAll closes every channel, used on shutdown.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.closeConn(c, CloseNormal, reason)
	}
}
