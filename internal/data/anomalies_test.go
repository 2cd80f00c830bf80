package data_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/visionguard/visionguard/internal/data"
)

func testEvent() *data.AnomalyEvent {
	return &data.AnomalyEvent{
		ID:              "ev-1",
		ShopID:          "shop-1",
		Timestamp:       time.Now().UTC(),
		Location:        "entrance",
		Severity:        data.SeverityHigh,
		Status:          data.StatusPending,
		Description:     "Abnormal behavior detected",
		ImageRef:        "anomaly_frames/shop-1/20260825_120000_abcd1234.jpg",
		AnomalyType:     "behavior",
		ConfidenceScore: 0.9,
		Extra:           json.RawMessage(`{"person_id":1}`),
	}
}

func testSample() *data.TrainingSample {
	return &data.TrainingSample{
		ID:                  "ts-1",
		PoseDict:            json.RawMessage(`{"1":[]}`),
		StreamID:            "stream-1",
		FrameNumber:         24,
		PredictedScore:      -3.2,
		PredictedConfidence: "HIGH",
	}
}

func TestInsertWithSample_OneTransaction(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	m := data.AnomalyModel{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO anomalies").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO anomaly_training_samples").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ev, ts := testEvent(), testSample()
	if err := m.InsertWithSample(context.Background(), ev, ts); err != nil {
		t.Fatalf("InsertWithSample failed: %v", err)
	}
	if ts.AnomalyID != ev.ID {
		t.Errorf("Sample not linked to event: %s != %s", ts.AnomalyID, ev.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestInsertWithSample_SampleFailureRollsBack(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	m := data.AnomalyModel{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO anomalies").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO anomaly_training_samples").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	if err := m.InsertWithSample(context.Background(), testEvent(), testSample()); err == nil {
		t.Fatal("Expected error when the sample insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	m := data.AnomalyModel{DB: db}
	mock.ExpectQuery("SELECT (.+) FROM anomalies").WillReturnError(sql.ErrNoRows)

	_, err := m.Get(context.Background(), "missing")
	if err != data.ErrRecordNotFound {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}
