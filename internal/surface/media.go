package surface

import "context"

type MediaDevice struct {
	DeviceID string `json:"deviceId"`
	Kind     string `json:"kind"`
	Label    string `json:"label"`
	GroupID  string `json:"groupId"`
}

// MediaDevices is the host's capture device API.
type MediaDevices interface {
	EnumerateDevices(ctx context.Context) ([]MediaDevice, error)
	GetUserMedia(ctx context.Context, constraints map[string]any) (any, error)
}

// EnumerateDevices returns no devices while real-time transport is blocked.
func (a *Adapter) EnumerateDevices(ctx context.Context, md MediaDevices) ([]MediaDevice, error) {
	if a.Snapshot().Privacy.BlockWebRTC {
		return []MediaDevice{}, nil
	}
	return md.EnumerateDevices(ctx)
}

func (a *Adapter) GetUserMedia(ctx context.Context, md MediaDevices, constraints map[string]any) (any, error) {
	if a.Snapshot().Privacy.BlockWebRTC {
		return nil, ErrWebRTCBlocked
	}
	return md.GetUserMedia(ctx, constraints)
}
