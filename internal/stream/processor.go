package stream

import (
	"context"
	"image"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visionguard/visionguard/internal/metrics"
	"github.com/visionguard/visionguard/internal/model"
	"github.com/visionguard/visionguard/internal/track"
)

const (
	ClassNormal   = "Normal"
	ClassAbnormal = "Abnormal"
)

const (
	ConfidenceLow    = "LOW"
	ConfidenceMedium = "MEDIUM"
	ConfidenceHigh   = "HIGH"
)

// Processor states.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// Result is one person's classification outcome for one frame.
type Result struct {
	PersonID       int        `json:"person_id"`
	FrameNumber    int64      `json:"frame_number"`
	Score          float64    `json:"score"`
	Classification string     `json:"classification"`
	Confidence     string     `json:"confidence"`
	Box            model.BBox `json:"bbox"`
}

// AnomalyAlert is what the processor hands to the alert hub.
type AnomalyAlert struct {
	UserID   string
	StreamID string
	ShopID   string
	Result   Result
	// Annotated is the frame with overlays; the hub encodes it for the wire.
	Annotated image.Image
}

// Alerter is the hub-facing sink. Publish blocks on the per-user mailbox so
// an abnormal burst cannot leak memory.
type Alerter interface {
	Publish(ctx context.Context, alert AnomalyAlert) error
}

// Recording is the recorder-facing payload for one positive classification.
type Recording struct {
	ShopID      string
	StreamID    string
	Location    string
	Description string
	AnomalyType string
	Frame       image.Image
	Result      Result
	PoseDict    map[int][]model.PoseFrame
	Escalate    bool
}

// EventRecorder persists evidence and the event row. Failures stay inside
// the recorder; the alert has already shipped.
type EventRecorder interface {
	Record(ctx context.Context, rec Recording)
}

type ProcessorConfig struct {
	AnomalyThreshold float64
	HighCut          float64
	MediumCut        float64
	SequenceLength   int
}

type ProcessorDeps struct {
	Detector   model.PersonDetector
	Classifier model.AnomalyClassifier
	Pose       model.PoseEstimator
	Tracker    *track.Tracker
	Alerts     Alerter
	Recorder   EventRecorder
}

// Processor orchestrates detect, track, buffer, classify and annotate for
// one stream. It owns its tracker and buffer exclusively.
type Processor struct {
	streamID string
	userID   string
	shopID   string
	location string

	cfg    ProcessorConfig
	deps   ProcessorDeps
	buffer *Buffer

	frames chan Frame
	stop   chan struct{}

	mu    sync.Mutex
	state string

	framesProcessed atomic.Int64
	anomalies       atomic.Int64
	startedAt       time.Time
}

func NewProcessor(streamID, userID, shopID, location string, cfg ProcessorConfig, deps ProcessorDeps) *Processor {
	if deps.Tracker == nil {
		deps.Tracker = track.New(track.Config{}, func(ctx context.Context, frame image.Image, box model.BBox) (model.PoseFrame, error) {
			return deps.Pose.Estimate(ctx, frame, box)
		})
	}
	return &Processor{
		streamID: streamID,
		userID:   userID,
		shopID:   shopID,
		location: location,
		cfg:      cfg,
		deps:     deps,
		buffer:   NewBuffer(cfg.SequenceLength),
		frames:   make(chan Frame, 1),
		stop:     make(chan struct{}),
		state:    StateIdle,
	}
}

// Submit offers a decoded frame. If the processor is busy the queued frame
// is replaced: the last frame wins, never unbounded work.
func (p *Processor) Submit(f Frame) {
	select {
	case p.frames <- f:
		return
	default:
	}
	select {
	case <-p.frames:
		metrics.RecordFrameDrop()
	default:
	}
	select {
	case p.frames <- f:
	default:
		metrics.RecordFrameDrop()
	}
}

// Run consumes frames until Stop or context cancellation. Frames are
// processed strictly in arrival order.
func (p *Processor) Run(ctx context.Context) {
	p.setState(StateRunning)
	p.startedAt = time.Now()
	defer p.setState(StateStopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case f := <-p.frames:
			p.processFrame(ctx, f)
		}
	}
}

// Stop asks the run loop to exit. Idempotent.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.state == StateStopping || p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	p.mu.Unlock()
	close(p.stop)
}

func (p *Processor) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) setState(s string) {
	p.mu.Lock()
	if p.state != StateStopping || s == StateStopped {
		p.state = s
	}
	p.mu.Unlock()
}

func (p *Processor) processFrame(ctx context.Context, f Frame) {
	metrics.RecordFrame()
	p.framesProcessed.Add(1)

	detections, err := p.deps.Detector.Detect(ctx, f.Image)
	if err != nil {
		log.Printf("[Processor %s/%s] Detection failed on frame %d: %v",
			p.userID, p.streamID, f.Number, err)
		return
	}

	people, removed := p.deps.Tracker.Update(ctx, f.Image, detections)
	for _, id := range removed {
		p.buffer.Drop(id)
	}

	results := make([]Result, 0, len(people))
	var abnormal []Result
	for _, person := range people {
		res := Result{
			PersonID:       person.ID,
			FrameNumber:    f.Number,
			Classification: ClassNormal,
			Confidence:     ConfidenceLow,
			Box:            person.Box,
		}

		// No usable skeleton this frame: drop it rather than feed a
		// fabricated zero pose into the classifier window.
		if !person.PoseOK {
			results = append(results, res)
			continue
		}
		p.buffer.Push(person.ID, person.Pose)

		if seq := p.buffer.Sequence(person.ID); seq != nil {
			score, err := p.deps.Classifier.Score(ctx, seq)
			if err != nil {
				log.Printf("[Processor %s/%s] Classification failed for person %d: %v",
					p.userID, p.streamID, person.ID, err)
				results = append(results, res)
				continue
			}
			res.Score = score
			res.Confidence = bucketConfidence(score, p.cfg.HighCut, p.cfg.MediumCut)
			if score < p.cfg.AnomalyThreshold {
				res.Classification = ClassAbnormal
				abnormal = append(abnormal, res)
			}
		}
		results = append(results, res)
	}

	if len(abnormal) == 0 {
		return
	}

	annotated := Annotate(f.Image, results)
	snapshot := p.buffer.SnapshotAll()

	for _, res := range abnormal {
		p.anomalies.Add(1)
		metrics.RecordAnomaly(res.Confidence)

		alert := AnomalyAlert{
			UserID:    p.userID,
			StreamID:  p.streamID,
			ShopID:    p.shopID,
			Result:    res,
			Annotated: annotated,
		}
		if err := p.deps.Alerts.Publish(ctx, alert); err != nil {
			log.Printf("[Processor %s/%s] Alert publish failed: %v", p.userID, p.streamID, err)
		}

		p.deps.Recorder.Record(ctx, Recording{
			ShopID:      p.shopID,
			StreamID:    p.streamID,
			Location:    p.location,
			Description: "Abnormal behavior detected",
			AnomalyType: "behavior",
			Frame:       annotated,
			Result:      res,
			PoseDict:    snapshot,
		})
	}
}

func bucketConfidence(score, highCut, mediumCut float64) string {
	abs := math.Abs(score)
	switch {
	case abs >= highCut:
		return ConfidenceHigh
	case abs >= mediumCut:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Stats is the per-stream activity snapshot surfaced by the streams API.
type Stats struct {
	FramesProcessed int64   `json:"frames_processed"`
	Anomalies       int64   `json:"anomalies"`
	ActiveTracks    int     `json:"active_tracks"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	State           string  `json:"state"`
}

func (p *Processor) Stats() Stats {
	var uptime float64
	if !p.startedAt.IsZero() {
		uptime = time.Since(p.startedAt).Seconds()
	}
	return Stats{
		FramesProcessed: p.framesProcessed.Load(),
		Anomalies:       p.anomalies.Load(),
		ActiveTracks:    p.deps.Tracker.ActiveTracks(),
		UptimeSeconds:   uptime,
		State:           p.State(),
	}
}
