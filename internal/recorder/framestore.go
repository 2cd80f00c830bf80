package recorder

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const evidenceJPEGQuality = 90

// FrameStore writes JPEG evidence under
// {root}/anomaly_frames/{shop_id}/{YYYYMMDD_HHMMSS}_{8hex}.jpg.
type FrameStore struct {
	root string
}

func NewFrameStore(root string) *FrameStore {
	if root == "" {
		root = "."
	}
	return &FrameStore{root: root}
}

// Save encodes the frame at quality 90 and returns the path relative to the
// store root, the value persisted as image_ref.
func (s *FrameStore) Save(shopID string, img image.Image) (string, error) {
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	name := fmt.Sprintf("%s_%s.jpg", time.Now().UTC().Format("20060102_150405"), short)
	relPath := filepath.Join("anomaly_frames", shopID, name)
	fullPath := filepath.Join(s.root, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create evidence dir: %w", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("create evidence file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: evidenceJPEGQuality}); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("encode evidence: %w", err)
	}
	return filepath.ToSlash(relPath), nil
}

// FullPath resolves an image_ref back to the on-disk location.
func (s *FrameStore) FullPath(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}
