package infra

import (
	"encoding/json"
	"fmt"
	"strings"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

// CommandPrompt is the system prompt shared by the LLM command interpreters.
func CommandPrompt(devices []domain.Device) string {
	return fmt.Sprintf(`You are a smart room assistant. The user gives a command in English, Spanish or Chinese.

Current device states:
%s
Instructions:
1. Analyze the command.
2. Return a JSON array of objects with the NEW state of each affected device: {"id": "...", "status": true|false, "value": "..."}.
3. Use the exact device ID from the list above.
4. Only include devices that need to change. Omit "status" or "value" when they stay the same.
5. If the user says "turn on the AC", set status to true.
6. If nothing should change, return [].
7. Respond ONLY with the JSON array, no explanation, no markdown.`, application.SummarizeDevices(devices))
}

// ParseDeviceUpdates decodes an interpreter reply. Code fences are tolerated and
// blank values are treated as absent.
func ParseDeviceUpdates(reply string) ([]domain.DeviceUpdate, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var updates []domain.DeviceUpdate
	if err := json.Unmarshal([]byte(text), &updates); err != nil {
		return nil, fmt.Errorf("parsing device updates JSON (%s): %w", text, err)
	}

	out := updates[:0]
	for _, u := range updates {
		u.ID = strings.TrimSpace(u.ID)
		if u.ID == "" {
			continue
		}
		if u.Value != nil && !u.Value.IsNumber() && strings.TrimSpace(u.Value.String()) == "" {
			u.Value = nil
		}
		out = append(out, u)
	}
	return out, nil
}
