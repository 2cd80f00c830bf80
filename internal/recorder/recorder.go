package recorder

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/visionguard/visionguard/internal/data"
	"github.com/visionguard/visionguard/internal/model"
	"github.com/visionguard/visionguard/internal/stream"
)

// AnomalyStore is the persistence dependency, satisfied by data.AnomalyModel.
type AnomalyStore interface {
	InsertWithSample(ctx context.Context, ev *data.AnomalyEvent, ts *data.TrainingSample) error
}

// Recorder persists evidence and event rows for positive classifications.
// It never propagates failures back into the pipeline; the WebSocket alert
// has already shipped by the time Record runs.
type Recorder struct {
	store     *FrameStore
	anomalies AnomalyStore
}

func New(store *FrameStore, anomalies AnomalyStore) *Recorder {
	return &Recorder{store: store, anomalies: anomalies}
}

// extraPayload is the forward-compatible JSON blob stored on the event.
type extraPayload struct {
	PersonID    int        `json:"person_id"`
	BBox        model.BBox `json:"bbox"`
	FrameNumber int64      `json:"frame_number"`
	RawScore    float64    `json:"raw_score"`
	Escalate    bool       `json:"escalate,omitempty"`
}

// Record implements stream.EventRecorder.
func (r *Recorder) Record(ctx context.Context, rec stream.Recording) {
	relPath, err := r.store.Save(rec.ShopID, rec.Frame)
	if err != nil {
		log.Printf("[Recorder] ERROR evidence write failed for shop %s: %v", rec.ShopID, err)
		return
	}

	extra, err := json.Marshal(extraPayload{
		PersonID:    rec.Result.PersonID,
		BBox:        rec.Result.Box,
		FrameNumber: rec.Result.FrameNumber,
		RawScore:    rec.Result.Score,
		Escalate:    rec.Escalate,
	})
	if err != nil {
		log.Printf("[Recorder] ERROR marshal extra: %v", err)
		return
	}

	poseDict, err := json.Marshal(rec.PoseDict)
	if err != nil {
		log.Printf("[Recorder] ERROR marshal pose dict: %v", err)
		return
	}

	ev := &data.AnomalyEvent{
		ID:              uuid.New().String(),
		ShopID:          rec.ShopID,
		Timestamp:       time.Now().UTC(),
		Location:        rec.Location,
		Severity:        mapSeverity(rec.Result.Confidence, rec.Escalate),
		Status:          data.StatusPending,
		Description:     rec.Description,
		ImageRef:        relPath,
		AnomalyType:     rec.AnomalyType,
		ConfidenceScore: bucketScore(rec.Result.Confidence),
		Extra:           extra,
	}
	sample := &data.TrainingSample{
		ID:                  uuid.New().String(),
		PoseDict:            poseDict,
		StreamID:            rec.StreamID,
		FrameNumber:         rec.Result.FrameNumber,
		PredictedScore:      rec.Result.Score,
		PredictedConfidence: rec.Result.Confidence,
		UsedForTraining:     false,
	}

	if err := r.insertWithRetry(ctx, ev, sample); err != nil {
		log.Printf("[Recorder] ERROR persist anomaly for shop %s: %v", rec.ShopID, err)
		// Evidence is kept on purpose; it may still be useful forensically.
		log.Printf("[Recorder] WARN orphan evidence at %s", relPath)
	}
}

func (r *Recorder) insertWithRetry(ctx context.Context, ev *data.AnomalyEvent, sample *data.TrainingSample) error {
	err := r.anomalies.InsertWithSample(ctx, ev, sample)
	if err == nil {
		return nil
	}
	log.Printf("[Recorder] Insert failed, retrying once: %v", err)
	return r.anomalies.InsertWithSample(ctx, ev, sample)
}

// mapSeverity maps the confidence bucket onto event severity. CRITICAL is
// reached only through an explicit escalation flag.
func mapSeverity(confidence string, escalate bool) string {
	if escalate {
		return data.SeverityCritical
	}
	switch confidence {
	case stream.ConfidenceHigh:
		return data.SeverityHigh
	case stream.ConfidenceMedium:
		return data.SeverityMedium
	default:
		return data.SeverityLow
	}
}

func bucketScore(confidence string) float64 {
	switch confidence {
	case stream.ConfidenceHigh:
		return 0.9
	case stream.ConfidenceMedium:
		return 0.7
	default:
		return 0.5
	}
}
