package recorder_test

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/visionguard/visionguard/internal/data"
	"github.com/visionguard/visionguard/internal/model"
	"github.com/visionguard/visionguard/internal/recorder"
	"github.com/visionguard/visionguard/internal/stream"
)

type mockStore struct {
	mu      sync.Mutex
	failFor int
	events  []*data.AnomalyEvent
	samples []*data.TrainingSample
}

func (m *mockStore) InsertWithSample(ctx context.Context, ev *data.AnomalyEvent, ts *data.TrainingSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor > 0 {
		m.failFor--
		return errors.New("db down")
	}
	m.events = append(m.events, ev)
	m.samples = append(m.samples, ts)
	return nil
}

func testRecording(confidence string, escalate bool) stream.Recording {
	return stream.Recording{
		ShopID:      "shop-9",
		StreamID:    "stream-1",
		Location:    "aisle 3",
		Description: "Abnormal behavior detected",
		AnomalyType: "behavior",
		Frame:       image.NewRGBA(image.Rect(0, 0, 32, 32)),
		Result: stream.Result{
			PersonID:       2,
			FrameNumber:    48,
			Score:          -3.1,
			Classification: stream.ClassAbnormal,
			Confidence:     confidence,
			Box:            model.BBox{X: 1, Y: 2, W: 3, H: 4},
		},
		PoseDict: map[int][]model.PoseFrame{2: make([]model.PoseFrame, 3)},
		Escalate: escalate,
	}
}

var evidenceName = regexp.MustCompile(`^\d{8}_\d{6}_[0-9a-f]{8}\.jpg$`)

func TestFrameStore_SaveLayout(t *testing.T) {
	root := t.TempDir()
	fs := recorder.NewFrameStore(root)

	rel, err := fs.Save("shop-9", image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	dir, name := filepath.Split(filepath.FromSlash(rel))
	if filepath.ToSlash(dir) != "anomaly_frames/shop-9/" {
		t.Errorf("Unexpected evidence dir: %s", dir)
	}
	if !evidenceName.MatchString(name) {
		t.Errorf("Unexpected evidence name: %s", name)
	}

	raw, err := os.ReadFile(fs.FullPath(rel))
	if err != nil {
		t.Fatalf("Evidence file missing: %v", err)
	}
	if len(raw) < 2 || raw[0] != 0xFF || raw[1] != 0xD8 {
		t.Errorf("Evidence is not a JPEG")
	}
}

func TestRecorder_PersistsEventAndSample(t *testing.T) {
	fs := recorder.NewFrameStore(t.TempDir())
	store := &mockStore{}
	rec := recorder.New(fs, store)

	rec.Record(context.Background(), testRecording(stream.ConfidenceHigh, false))

	if len(store.events) != 1 || len(store.samples) != 1 {
		t.Fatalf("Expected 1 event and 1 sample, got %d/%d", len(store.events), len(store.samples))
	}

	ev := store.events[0]
	if ev.Severity != data.SeverityHigh {
		t.Errorf("Expected HIGH severity, got %s", ev.Severity)
	}
	if ev.Status != data.StatusPending {
		t.Errorf("Expected PENDING status, got %s", ev.Status)
	}
	if ev.ConfidenceScore != 0.9 {
		t.Errorf("Expected confidence score 0.9, got %v", ev.ConfidenceScore)
	}
	if ev.ImageRef == "" {
		t.Errorf("Expected image_ref set")
	}

	var extra struct {
		PersonID    int     `json:"person_id"`
		FrameNumber int64   `json:"frame_number"`
		RawScore    float64 `json:"raw_score"`
	}
	if err := json.Unmarshal(ev.Extra, &extra); err != nil {
		t.Fatalf("Extra is not valid JSON: %v", err)
	}
	if extra.PersonID != 2 || extra.FrameNumber != 48 || extra.RawScore != -3.1 {
		t.Errorf("Unexpected extra payload: %+v", extra)
	}

	sample := store.samples[0]
	if sample.PredictedScore != -3.1 || sample.PredictedConfidence != stream.ConfidenceHigh {
		t.Errorf("Unexpected sample: %+v", sample)
	}
	if sample.UsedForTraining {
		t.Errorf("Fresh samples must not be marked as used for training")
	}
}

func TestRecorder_SeverityMapping(t *testing.T) {
	tests := []struct {
		confidence string
		escalate   bool
		want       string
	}{
		{stream.ConfidenceHigh, false, data.SeverityHigh},
		{stream.ConfidenceMedium, false, data.SeverityMedium},
		{stream.ConfidenceLow, false, data.SeverityLow},
		{stream.ConfidenceLow, true, data.SeverityCritical},
	}

	for _, tc := range tests {
		fs := recorder.NewFrameStore(t.TempDir())
		store := &mockStore{}
		rec := recorder.New(fs, store)

		rec.Record(context.Background(), testRecording(tc.confidence, tc.escalate))
		if len(store.events) != 1 {
			t.Fatalf("%s/%v: no event persisted", tc.confidence, tc.escalate)
		}
		if got := store.events[0].Severity; got != tc.want {
			t.Errorf("%s/%v: expected severity %s, got %s", tc.confidence, tc.escalate, tc.want, got)
		}
	}
}

func TestRecorder_RetriesOnce(t *testing.T) {
	fs := recorder.NewFrameStore(t.TempDir())
	store := &mockStore{failFor: 1}
	rec := recorder.New(fs, store)

	rec.Record(context.Background(), testRecording(stream.ConfidenceMedium, false))

	if len(store.events) != 1 {
		t.Fatalf("Expected the retry to succeed, got %d events", len(store.events))
	}
}

func TestRecorder_KeepsOrphanEvidenceOnDBFailure(t *testing.T) {
	root := t.TempDir()
	fs := recorder.NewFrameStore(root)
	store := &mockStore{failFor: 2}
	rec := recorder.New(fs, store)

	rec.Record(context.Background(), testRecording(stream.ConfidenceMedium, false))

	if len(store.events) != 0 {
		t.Fatalf("Expected no event after both attempts fail")
	}

	// The JPEG must survive the failed insert.
	matches, err := filepath.Glob(filepath.Join(root, "anomaly_frames", "shop-9", "*.jpg"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("Expected orphan evidence file, got %v (%v)", matches, err)
	}
}
