package track

import (
	"context"
	"image"
	"log"
	"sort"

	"github.com/visionguard/visionguard/internal/model"
)

type Config struct {
	IoUThreshold float64
	MaxAge       int
}

// PoseFunc produces keypoints for a matched detection, cropped to its bbox.
type PoseFunc func(ctx context.Context, frame image.Image, box model.BBox) (model.PoseFrame, error)

type TrackedPerson struct {
	ID         int
	Box        model.BBox
	Confidence float64
	Pose       model.PoseFrame
	// PoseOK is false when pose estimation failed or found no person in
	// the crop; Pose is then a zero frame and must not be buffered.
	PoseOK bool
}

type trackState struct {
	id      int
	lastBox model.BBox
	missed  int
}

// Tracker assigns stable integer ids to detections across frames of one
// stream. Single-owner: only the stream processor calls it.
type Tracker struct {
	cfg    Config
	pose   PoseFunc
	nextID int
	tracks []*trackState
}

func New(cfg Config, pose PoseFunc) *Tracker {
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.3
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30
	}
	return &Tracker{cfg: cfg, pose: pose, nextID: 1}
}

// Update associates detections with tracks greedily by descending detection
// confidence. It returns the matched people (with pose keypoints) and the
// ids of tracks aged out this frame.
func (t *Tracker) Update(ctx context.Context, frame image.Image, detections []model.Detection) ([]TrackedPerson, []int) {
	dets := make([]model.Detection, len(detections))
	copy(dets, detections)
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	origLen := len(t.tracks)
	claimed := make(map[int]bool, origLen)
	matched := make(map[int]bool, origLen)
	var people []TrackedPerson

	for _, det := range dets {
		best := -1
		bestIoU := 0.0
		for i := 0; i < origLen; i++ {
			tr := t.tracks[i]
			if claimed[i] {
				continue
			}
			iou := det.Box.IoU(tr.lastBox)
			if iou < t.cfg.IoUThreshold {
				continue
			}
			// Equal IoU keeps the lower existing id so ids stay stable.
			if iou > bestIoU || (iou == bestIoU && best >= 0 && tr.id < t.tracks[best].id) {
				bestIoU = iou
				best = i
			}
		}

		var id int
		if best >= 0 {
			claimed[best] = true
			matched[best] = true
			t.tracks[best].lastBox = det.Box
			t.tracks[best].missed = 0
			id = t.tracks[best].id
		} else {
			id = t.nextID
			t.nextID++
			t.tracks = append(t.tracks, &trackState{id: id, lastBox: det.Box})
			matched[len(t.tracks)-1] = true
		}

		person := TrackedPerson{ID: id, Box: det.Box, Confidence: det.Confidence}
		if t.pose != nil {
			pose, err := t.pose(ctx, frame, det.Box)
			if err != nil {
				log.Printf("[Tracker] Pose estimation failed for person %d: %v", id, err)
			} else if pose.Valid() {
				person.Pose = pose
				person.PoseOK = true
			}
		}
		people = append(people, person)
	}

	// Age out unmatched tracks.
	var removed []int
	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if matched[i] {
			kept = append(kept, tr)
			continue
		}
		tr.missed++
		if tr.missed > t.cfg.MaxAge {
			removed = append(removed, tr.id)
		} else {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept

	return people, removed
}

// ActiveTracks returns the live track count, for stats.
func (t *Tracker) ActiveTracks() int {
	return len(t.tracks)
}
