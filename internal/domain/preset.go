package domain

import "time"

// DeviceState is one device captured into a preset.
type DeviceState struct {
	DeviceID string `json:"device_id"`
	Status   bool   `json:"status"`
	Value    *Value `json:"value,omitempty"`
}

type Preset struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	UserID       string        `json:"user_id,omitempty"`
	UserName     string        `json:"user_name,omitempty"`
	FaceImage    Frame         `json:"face_image,omitempty"`
	GestureImage Frame         `json:"gesture_image,omitempty"`
	DeviceStates []DeviceState `json:"device_states,omitempty"`
	GestureDigit *int          `json:"gesture_digit,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
	CreatedAt    *time.Time    `json:"created_at,omitempty"`
}

// CaptureStates snapshots the given devices as preset states.
func CaptureStates(devices []Device) []DeviceState {
	states := make([]DeviceState, 0, len(devices))
	for _, d := range devices {
		states = append(states, DeviceState{
			DeviceID: d.ID,
			Status:   d.Status,
			Value:    d.Value.Clone(),
		})
	}
	return states
}
