package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Severity of a persisted anomaly event.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Review status of a persisted anomaly event.
const (
	StatusPending       = "PENDING"
	StatusAcknowledged  = "ACKNOWLEDGED"
	StatusResolved      = "RESOLVED"
	StatusFalsePositive = "FALSE_POSITIVE"
)

type AnomalyEvent struct {
	ID              string
	ShopID          string
	Timestamp       time.Time
	Location        string
	Severity        string
	Status          string
	Description     string
	ImageRef        string
	AnomalyType     string
	ConfidenceScore float64
	Extra           json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TrainingSample struct {
	ID                  string
	AnomalyID           string
	PoseDict            json.RawMessage
	StreamID            string
	FrameNumber         int64
	PredictedScore      float64
	PredictedConfidence string
	UserFeedback        *string
	UserLabel           *string
	UserNotes           *string
	LabeledBy           *string
	LabeledAt           *time.Time
	UsedForTraining     bool
	TrainingBatchID     *string
}

type AnomalyModel struct {
	DB *sql.DB
}

// InsertWithSample persists the event and its training sample in one
// transaction. A sample never exists without its event.
func (m AnomalyModel) InsertWithSample(ctx context.Context, ev *AnomalyEvent, ts *TrainingSample) error {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	eventQuery := `
		INSERT INTO anomalies
			(id, shop_id, timestamp, location, severity, status, description,
			 image_ref, anomaly_type, confidence_score, extra, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	now := time.Now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now

	_, err = tx.ExecContext(ctx, eventQuery,
		ev.ID, ev.ShopID, ev.Timestamp, ev.Location, ev.Severity, ev.Status,
		ev.Description, ev.ImageRef, ev.AnomalyType, ev.ConfidenceScore,
		ev.Extra, ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}

	sampleQuery := `
		INSERT INTO anomaly_training_samples
			(id, anomaly_id, pose_dict, stream_id, frame_number,
			 predicted_score, predicted_confidence, used_for_training)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	ts.AnomalyID = ev.ID
	_, err = tx.ExecContext(ctx, sampleQuery,
		ts.ID, ts.AnomalyID, ts.PoseDict, ts.StreamID, ts.FrameNumber,
		ts.PredictedScore, ts.PredictedConfidence, ts.UsedForTraining,
	)
	if err != nil {
		return fmt.Errorf("insert training sample: %w", err)
	}

	return tx.Commit()
}

func (m AnomalyModel) Get(ctx context.Context, id string) (*AnomalyEvent, error) {
	query := `
		SELECT id, shop_id, timestamp, location, severity, status, description,
		       image_ref, anomaly_type, confidence_score, extra, created_at, updated_at
		FROM anomalies
		WHERE id = $1`

	var ev AnomalyEvent
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&ev.ID, &ev.ShopID, &ev.Timestamp, &ev.Location, &ev.Severity, &ev.Status,
		&ev.Description, &ev.ImageRef, &ev.AnomalyType, &ev.ConfidenceScore,
		&ev.Extra, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListByShop returns recent events for a shop, newest first.
func (m AnomalyModel) ListByShop(ctx context.Context, shopID string, limit int) ([]AnomalyEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, shop_id, timestamp, location, severity, status, description,
		       image_ref, anomaly_type, confidence_score, extra, created_at, updated_at
		FROM anomalies
		WHERE shop_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnomalyEvent
	for rows.Next() {
		var ev AnomalyEvent
		if err := rows.Scan(
			&ev.ID, &ev.ShopID, &ev.Timestamp, &ev.Location, &ev.Severity, &ev.Status,
			&ev.Description, &ev.ImageRef, &ev.AnomalyType, &ev.ConfidenceScore,
			&ev.Extra, &ev.CreatedAt, &ev.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
