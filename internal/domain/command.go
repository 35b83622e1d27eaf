package domain

// TextCommandPrefix marks utterances that already are text and skip speech-to-text.
const TextCommandPrefix = "__TEXT__:"

// IsTextCommand strips the text marker from a raw utterance.
func IsTextCommand(data []byte) (string, bool) {
	if len(data) > len(TextCommandPrefix) && string(data[:len(TextCommandPrefix)]) == TextCommandPrefix {
		return string(data[len(TextCommandPrefix):]), true
	}
	return "", false
}
