package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is a device value: either a number (temperature, brightness, height)
// or a free-form string ("Auto", "24°C / 45%").
type Value struct {
	num    float64
	text   string
	isText bool
}

func NumberValue(n float64) *Value {
	return &Value{num: n}
}

func TextValue(s string) *Value {
	return &Value{text: s, isText: true}
}

func (v *Value) IsNumber() bool {
	return v != nil && !v.isText
}

func (v *Value) Number() (float64, bool) {
	if v == nil || v.isText {
		return 0, false
	}
	return v.num, true
}

// Int returns the value rounded toward zero. Text values that parse as numbers are accepted.
func (v *Value) Int() (int, bool) {
	if v == nil {
		return 0, false
	}
	if !v.isText {
		return int(v.num), true
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

func (v *Value) String() string {
	if v == nil {
		return ""
	}
	if v.isText {
		return v.text
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// Equal is nil-safe: two absent values are equal. A number and a string are never equal.
func (v *Value) Equal(o *Value) bool {
	if v == nil || o == nil {
		return v == nil && o == nil
	}
	if v.isText != o.isText {
		return false
	}
	if v.isText {
		return v.text == o.text
	}
	return v.num == o.num
}

func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Normalize converts numeric strings into numbers for device types with a numeric range.
// The interpreter reports every value as a string.
func (v *Value) Normalize(t DeviceType) *Value {
	if v == nil || !v.isText {
		return v
	}
	if _, ok := t.Range(); !ok {
		return v
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
	if err != nil {
		return v
	}
	return NumberValue(n)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.isText {
		return json.Marshal(v.text)
	}
	return json.Marshal(v.num)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding text value: %w", err)
		}
		*v = Value{text: s, isText: true}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding numeric value: %w", err)
	}
	*v = Value{num: n}
	return nil
}
