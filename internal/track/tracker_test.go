package track_test

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionguard/visionguard/internal/model"
	"github.com/visionguard/visionguard/internal/track"
)

func det(x, y, w, h, conf float64) model.Detection {
	return model.Detection{Box: model.BBox{X: x, Y: y, W: w, H: h}, Confidence: conf}
}

var testFrame = image.NewRGBA(image.Rect(0, 0, 64, 64))

func TestTracker_AssignsNewIDs(t *testing.T) {
	tr := track.New(track.Config{IoUThreshold: 0.3, MaxAge: 30}, nil)

	people, removed := tr.Update(context.Background(), testFrame, []model.Detection{
		det(0, 0, 10, 10, 0.9),
		det(40, 40, 10, 10, 0.8),
	})

	require.Len(t, people, 2)
	assert.Equal(t, 1, people[0].ID)
	assert.Equal(t, 2, people[1].ID)
	assert.Empty(t, removed, "no removals on first frame")
}

func TestTracker_StableIDsAcrossFrames(t *testing.T) {
	tr := track.New(track.Config{IoUThreshold: 0.3, MaxAge: 30}, nil)
	ctx := context.Background()

	tr.Update(ctx, testFrame, []model.Detection{
		det(0, 0, 10, 10, 0.9),
		det(40, 40, 10, 10, 0.8),
	})

	// Slightly shifted boxes keep high IoU with the previous frame.
	people, _ := tr.Update(ctx, testFrame, []model.Detection{
		det(41, 41, 10, 10, 0.85),
		det(1, 1, 10, 10, 0.7),
	})

	byID := map[int]model.BBox{}
	for _, p := range people {
		byID[p.ID] = p.Box
	}
	require.Contains(t, byID, 1, "track 1 lost across frames")
	require.Contains(t, byID, 2, "track 2 lost across frames")
	assert.Equal(t, float64(1), byID[1].X, "track 1 should follow the top-left box")
	assert.Equal(t, float64(41), byID[2].X, "track 2 should follow the bottom-right box")
}

func TestTracker_NoOverlapCreatesNewTrack(t *testing.T) {
	tr := track.New(track.Config{IoUThreshold: 0.3, MaxAge: 30}, nil)
	ctx := context.Background()

	tr.Update(ctx, testFrame, []model.Detection{det(0, 0, 10, 10, 0.9)})
	people, _ := tr.Update(ctx, testFrame, []model.Detection{det(50, 50, 10, 10, 0.9)})

	require.Len(t, people, 1)
	assert.Equal(t, 2, people[0].ID, "disjoint detection gets a fresh id")
	assert.Equal(t, 2, tr.ActiveTracks())
}

func TestTracker_AgesOutMissedTracks(t *testing.T) {
	tr := track.New(track.Config{IoUThreshold: 0.3, MaxAge: 2}, nil)
	ctx := context.Background()

	tr.Update(ctx, testFrame, []model.Detection{det(0, 0, 10, 10, 0.9)})

	var removed []int
	for i := 0; i < 3; i++ {
		_, removed = tr.Update(ctx, testFrame, nil)
	}

	require.Equal(t, []int{1}, removed, "track 1 removed after maxAge misses")
	assert.Equal(t, 0, tr.ActiveTracks())
}

func TestTracker_PoseAttached(t *testing.T) {
	wantConf := 0.75
	pose := func(ctx context.Context, frame image.Image, box model.BBox) (model.PoseFrame, error) {
		var pf model.PoseFrame
		for i := range pf {
			pf[i] = model.Keypoint{X: box.X, Y: box.Y, Conf: wantConf}
		}
		return pf, nil
	}
	tr := track.New(track.Config{}, pose)

	people, _ := tr.Update(context.Background(), testFrame, []model.Detection{det(5, 5, 10, 10, 0.9)})
	require.Len(t, people, 1)
	assert.Equal(t, wantConf, people[0].Pose[0].Conf, "pose keypoints populated")
	assert.True(t, people[0].PoseOK)
}

func TestTracker_FailedPoseNotOK(t *testing.T) {
	pose := func(ctx context.Context, frame image.Image, box model.BBox) (model.PoseFrame, error) {
		return model.PoseFrame{}, errors.New("session run failed")
	}
	tr := track.New(track.Config{}, pose)

	people, _ := tr.Update(context.Background(), testFrame, []model.Detection{det(5, 5, 10, 10, 0.9)})
	require.Len(t, people, 1)
	assert.False(t, people[0].PoseOK, "failed pose inference must not be marked usable")
}

func TestTracker_EmptyPoseNotOK(t *testing.T) {
	// Zero frame with nil error means the pose head found nobody in the crop.
	pose := func(ctx context.Context, frame image.Image, box model.BBox) (model.PoseFrame, error) {
		return model.PoseFrame{}, nil
	}
	tr := track.New(track.Config{}, pose)

	people, _ := tr.Update(context.Background(), testFrame, []model.Detection{det(5, 5, 10, 10, 0.9)})
	require.Len(t, people, 1)
	assert.False(t, people[0].PoseOK, "empty pose must not be marked usable")
}
