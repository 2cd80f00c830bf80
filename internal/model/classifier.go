package model

import (
	"context"
	"fmt"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/visionguard/visionguard/internal/metrics"
)

// The flow model consumes a padded 18-keypoint skeleton; the 17 COCO
// keypoints are padded with one zero keypoint.
const flowKeypoints = 18

// flowClassifier scores pose sequences with a normalizing-flow model.
// Input layout is [1, 2, N, 18] (x/y channels, confidence dropped); the
// model emits a negative log-likelihood.
type flowClassifier struct {
	session *ort.DynamicAdvancedSession
	pool    *Pool
	seqLen  int
}

func newFlowClassifier(path string, pool *Pool, seqLen int) (*flowClassifier, error) {
	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{"pose_seq"}, []string{"nll"}, nil)
	if err != nil {
		return nil, fmt.Errorf("classifier session: %w", err)
	}
	return &flowClassifier{session: session, pool: pool, seqLen: seqLen}, nil
}

// Score returns the log-likelihood of the sequence under normal behavior;
// lower means more anomalous.
func (c *flowClassifier) Score(ctx context.Context, seq []PoseFrame) (float64, error) {
	if len(seq) != c.seqLen {
		return 0, fmt.Errorf("sequence length %d, want %d", len(seq), c.seqLen)
	}

	data := make([]float32, 2*c.seqLen*flowKeypoints)
	yPlane := c.seqLen * flowKeypoints
	for t, frame := range seq {
		for k, kp := range frame {
			data[t*flowKeypoints+k] = float32(kp.X)
			data[yPlane+t*flowKeypoints+k] = float32(kp.Y)
		}
		// keypoint 17 stays zero (padding)
	}

	input, err := ort.NewTensor(ort.NewShape(1, 2, int64(c.seqLen), flowKeypoints), data)
	if err != nil {
		return 0, err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1))
	if err != nil {
		return 0, err
	}
	defer output.Destroy()

	start := time.Now()
	err = c.pool.Do(ctx, func() error {
		return c.session.Run([]ort.Value{input}, []ort.Value{output})
	})
	if err != nil {
		return 0, err
	}
	metrics.RecordInferenceLatency("classifier", float64(time.Since(start).Milliseconds()))

	nll := float64(output.GetData()[0])
	return -nll, nil
}

func (c *flowClassifier) destroy() {
	if c.session != nil {
		c.session.Destroy()
	}
}
