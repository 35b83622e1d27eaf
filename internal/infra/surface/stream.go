package surface

import (
	"encoding/json"
)

// inbound is a renderer message on the state stream. Per-frame input goes
// over the socket instead of one HTTP request per animation frame.
type inbound struct {
	Type string  `json:"type"`
	DT   float64 `json:"dt,omitempty"`
	Code string  `json:"code,omitempty"`
	Down bool    `json:"down,omitempty"`
	Yaw  float64 `json:"yaw,omitempty"`
	ID   string  `json:"id,omitempty"`
}

func (s *Server) handleMessage(c *Client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.Send(Message{Type: "error", Data: "malformed message"})
		return
	}

	switch msg.Type {
	case "state":
		c.Send(s.stateMessage())

	case "frame":
		res, err := s.advance(msg.DT)
		if err != nil {
			c.Send(Message{Type: "error", Data: err.Error()})
			return
		}
		c.Send(Message{Type: "pose", Data: res})
		if res.Opened {
			s.markDirty()
		}

	case "key":
		if msg.Down {
			s.room.Locomotion.KeyDown(msg.Code)
		} else {
			s.room.Locomotion.KeyUp(msg.Code)
		}

	case "look":
		s.room.Locomotion.Look(msg.Yaw)

	case "gaze":
		if msg.ID == "" {
			s.room.Gaze.Leave()
			return
		}
		if err := s.room.Gaze.Enter(msg.ID); err != nil {
			c.Send(Message{Type: "error", Data: err.Error()})
		}

	default:
		c.Send(Message{Type: "error", Data: "unknown message type " + msg.Type})
	}
}
