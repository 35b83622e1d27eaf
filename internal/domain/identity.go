package domain

import (
	"strings"
	"time"
)

type UserProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Avatar       string    `json:"avatar_url"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Frame is a captured camera image encoded as a data URL
// ("data:image/jpeg;base64,...").
type Frame string

const FramePrefix = "data:image/"

func (f Frame) Empty() bool {
	return strings.TrimSpace(string(f)) == ""
}
