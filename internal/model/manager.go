package model

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrModelLoad = errors.New("model load failed")

// Config for the Manager; paths point at ONNX artifacts.
type Config struct {
	YOLOPath       string
	PosePath       string
	AnomalyPath    string
	Device         string
	RuntimeLibPath string

	PersonConfidence float64
	SequenceLength   int
	InferenceWorkers int
}

// Manager owns the loaded models for the whole process. Processors hold
// borrowed references and must not mutate model state.
type Manager struct {
	cfg  Config
	pool *Pool

	mu         sync.Mutex
	loaded     bool
	stale      bool
	detector   *yoloDetector
	pose       *yoloPose
	classifier *flowClassifier
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:  cfg,
		pool: NewPool(cfg.InferenceWorkers),
	}
}

// Load initializes the runtime and creates the three sessions. Idempotent:
// a second call is a no-op unless the watcher marked the artifacts stale.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded && !m.stale {
		return nil
	}

	for _, path := range []string{m.cfg.YOLOPath, m.cfg.PosePath, m.cfg.AnomalyPath} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrModelLoad, path, err)
		}
	}

	if !m.loaded {
		if m.cfg.RuntimeLibPath != "" {
			ort.SetSharedLibraryPath(m.cfg.RuntimeLibPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("%w: onnx runtime: %v", ErrModelLoad, err)
		}
	}
	m.destroySessions()

	detector, err := newYOLODetector(m.cfg.YOLOPath, m.pool, m.cfg.PersonConfidence)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	pose, err := newYOLOPose(m.cfg.PosePath, m.pool)
	if err != nil {
		detector.destroy()
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	classifier, err := newFlowClassifier(m.cfg.AnomalyPath, m.pool, m.cfg.SequenceLength)
	if err != nil {
		detector.destroy()
		pose.destroy()
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	m.detector = detector
	m.pose = pose
	m.classifier = classifier
	m.loaded = true
	m.stale = false
	log.Printf("[Models] Loaded detector=%s pose=%s classifier=%s device=%s",
		m.cfg.YOLOPath, m.cfg.PosePath, m.cfg.AnomalyPath, m.cfg.Device)
	return nil
}

func (m *Manager) Detector() PersonDetector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detector
}

func (m *Manager) Pose() PoseEstimator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pose
}

func (m *Manager) Classifier() AnomalyClassifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classifier
}

func (m *Manager) PoseConfig() PoseConfig {
	return PoseConfig{
		ModelPath:      m.cfg.PosePath,
		SequenceLength: m.cfg.SequenceLength,
		Device:         m.cfg.Device,
	}
}

// markStale flags the artifacts as replaced on disk; the next Load reloads.
func (m *Manager) markStale() {
	m.mu.Lock()
	m.stale = true
	m.mu.Unlock()
}

// Cleanup releases the sessions and the runtime environment.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return
	}
	m.destroySessions()
	ort.DestroyEnvironment()
	m.loaded = false
}

func (m *Manager) destroySessions() {
	if m.detector != nil {
		m.detector.destroy()
		m.detector = nil
	}
	if m.pose != nil {
		m.pose.destroy()
		m.pose = nil
	}
	if m.classifier != nil {
		m.classifier.destroy()
		m.classifier = nil
	}
}
