package domain

import "strings"

type DeviceType string

const (
	DeviceTypeLight      DeviceType = "LIGHT"
	DeviceTypeAC         DeviceType = "AC"
	DeviceTypeCurtain    DeviceType = "CURTAIN"
	DeviceTypeDesk       DeviceType = "DESK"
	DeviceTypeProjector  DeviceType = "PROJECTOR"
	DeviceTypePurifier   DeviceType = "PURIFIER"
	DeviceTypeHumidifier DeviceType = "HUMIDIFIER"
	DeviceTypeRobot      DeviceType = "ROBOT"
	DeviceTypeSensor     DeviceType = "SENSOR"
	DeviceTypeCamera     DeviceType = "CAMERA"
)

// ValueRange is the legal numeric domain of a device value.
type ValueRange struct {
	Min int
	Max int
}

var valueRanges = map[DeviceType]ValueRange{
	DeviceTypeAC:      {Min: 16, Max: 30},
	DeviceTypeLight:   {Min: 0, Max: 100},
	DeviceTypeCurtain: {Min: 0, Max: 100},
	DeviceTypeDesk:    {Min: 70, Max: 120},
}

// Range reports the numeric domain for types that carry a numeric value.
// Other types hold a free-form string or nothing.
func (t DeviceType) Range() (ValueRange, bool) {
	r, ok := valueRanges[t]
	return r, ok
}

// Clamp limits v to the type's range. Types without a range return v unchanged.
func (t DeviceType) Clamp(v int) int {
	r, ok := t.Range()
	if !ok {
		return v
	}
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTypeLight, DeviceTypeAC, DeviceTypeCurtain, DeviceTypeDesk, DeviceTypeProjector,
		DeviceTypePurifier, DeviceTypeHumidifier, DeviceTypeRobot, DeviceTypeSensor, DeviceTypeCamera:
		return true
	}
	return false
}

func ParseDeviceType(s string) (DeviceType, bool) {
	t := DeviceType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

type Vec3 [3]float64

type Device struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     DeviceType `json:"type"`
	Status   bool       `json:"status"`
	Value    *Value     `json:"value,omitempty"`
	Position Vec3       `json:"position"`
	Rotation *Vec3      `json:"rotation,omitempty"`
	Color    string     `json:"color,omitempty"`
}

// Clone returns a copy that shares no pointers with d.
func (d Device) Clone() Device {
	out := d
	out.Value = d.Value.Clone()
	if d.Rotation != nil {
		r := *d.Rotation
		out.Rotation = &r
	}
	return out
}

// DeviceUpdate is a partial device state. Nil fields are left untouched.
type DeviceUpdate struct {
	ID     string `json:"id"`
	Status *bool  `json:"status,omitempty"`
	Value  *Value `json:"value,omitempty"`
}

func (u DeviceUpdate) Empty() bool {
	return u.Status == nil && u.Value == nil
}

// Apply merges u into d and reports whether anything changed.
func (u DeviceUpdate) Apply(d *Device) bool {
	changed := false
	if u.Status != nil && *u.Status != d.Status {
		d.Status = *u.Status
		changed = true
	}
	if u.Value != nil && !u.Value.Equal(d.Value) {
		d.Value = u.Value.Clone()
		changed = true
	}
	return changed
}

// PushEnvelope is the payload carried on the device topics.
type PushEnvelope struct {
	DeviceID string `json:"deviceId"`
	Status   *bool  `json:"status,omitempty"`
	Value    *Value `json:"value,omitempty"`
}

func (e PushEnvelope) Update() DeviceUpdate {
	return DeviceUpdate{ID: e.DeviceID, Status: e.Status, Value: e.Value}
}

func Bool(b bool) *bool {
	return &b
}
