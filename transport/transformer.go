package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/viam-labs/navloop/spatialmath"
)

// ErrNoPose is returned before the first odometry pose arrives.
var ErrNoPose = errors.New("no robot pose received yet")

// OdomTransformer is a built-in Transformer for hosts without an external
// transform service: it relates the world and body frames through the most
// recent odometry-derived robot pose. Until a pose arrives, lookups fail and
// the tick treats its inputs as stale.
type OdomTransformer struct {
	mu      sync.Mutex
	pose    spatialmath.Pose
	hasPose bool
}

// NewOdomTransformer returns an empty transformer.
func NewOdomTransformer() *OdomTransformer {
	return &OdomTransformer{}
}

// SetPose records the robot's pose in the world frame.
func (t *OdomTransformer) SetPose(pose spatialmath.Pose) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pose = pose
	t.hasPose = true
}

// Pose implements Transformer for the world/body frame pair.
func (t *OdomTransformer) Pose(ctx context.Context, src, dst string) (spatialmath.Pose, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasPose {
		return spatialmath.Pose{}, ErrNoPose
	}
	switch {
	case src == FrameBody && dst == FrameWorld:
		return t.pose, nil
	case src == FrameWorld && dst == FrameBody:
		return t.pose.Invert(), nil
	case src == dst:
		return spatialmath.Pose{}, nil
	}
	return spatialmath.Pose{}, ErrUnknownFrame
}
