package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is one of the closed set of command types a device understands.
type Kind string

const (
	KindMessage      Kind = "message"
	KindReboot       Kind = "reboot"
	KindUpdateConfig Kind = "update_config"
	KindForcePublish Kind = "force_publish"
	KindClearCache   Kind = "clear_cache"
)

// Kinds lists every known kind.
var Kinds = []Kind{KindMessage, KindReboot, KindUpdateConfig, KindForcePublish, KindClearCache}

// ParseKind rejects anything outside the known set.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// NormalizePayload validates raw against the schema of kind and returns the
// JSON object to store. An absent payload becomes {}.
func NormalizePayload(kind Kind, raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = json.RawMessage(`{}`)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidPayload)
	}

	switch kind {
	case KindMessage:
		var text string
		if err := json.Unmarshal(fields["text"], &text); err != nil || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: message requires a non-empty text", ErrInvalidPayload)
		}
	case KindUpdateConfig:
		var cfg map[string]json.RawMessage
		if err := json.Unmarshal(fields["config"], &cfg); err != nil || cfg == nil {
			return nil, fmt.Errorf("%w: update_config requires a config object", ErrInvalidPayload)
		}
	}
	return raw, nil
}
