package chatmemory

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeTranscript serializes t as a JSON array. An empty transcript encodes as "[]".
func EncodeTranscript(t Transcript) (string, error) {
	if t == nil {
		t = Transcript{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}
	return string(data), nil
}

// DecodeTranscript parses a stored record. Anything that is not a JSON array of
// user/assistant messages yields a *CorruptRecordError.
func DecodeTranscript(raw string) (Transcript, error) {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 || data[0] != '[' {
		return nil, &CorruptRecordError{Err: fmt.Errorf("record is not a JSON array")}
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &CorruptRecordError{Err: err}
	}

	for i, m := range t {
		if m.Role != UserRole && m.Role != AssistantRole {
			return nil, &CorruptRecordError{Err: fmt.Errorf("message %d has unknown role %q", i, m.Role)}
		}
	}

	if t == nil {
		t = Transcript{}
	}
	return t, nil
}
