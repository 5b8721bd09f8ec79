package domain

import (
	"encoding/json"
	"sort"
)

// DefaultMaxPayloadBytes is the payload degradation threshold used when the
// configuration does not override it.
const DefaultMaxPayloadBytes = 64 * 1024

// payloadSampleBytes bounds the truncated sample kept in a degraded payload
// stub so the stub itself stays small.
const payloadSampleBytes = 512

// degradedPayload is the diagnostic stub stored in place of a payload that is
// oversized or cannot be serialized. It keeps the original key names, a
// truncated sample, and the size so the task remains inspectable.
type degradedPayload struct {
	Degraded  bool     `json:"payload_degraded"`
	Reason    string   `json:"reason"`
	Keys      []string `json:"keys"`
	Sample    string   `json:"sample,omitempty"`
	SizeBytes int      `json:"size_bytes"`
}

// EncodePayload serializes a task payload for storage. It never fails:
// payloads that do not serialize or exceed maxBytes are replaced with a
// diagnostic stub so that task creation always succeeds. A nil payload
// encodes as an empty JSON object.
func EncodePayload(payload map[string]any, maxBytes int) []byte {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	if payload == nil {
		return []byte("{}")
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	raw, err := json.Marshal(payload)
	if err != nil {
		return mustMarshalStub(degradedPayload{
			Degraded: true,
			Reason:   "payload is not serializable: " + err.Error(),
			Keys:     keys,
		})
	}
	if len(raw) > maxBytes {
		sample := raw
		if len(sample) > payloadSampleBytes {
			sample = sample[:payloadSampleBytes]
		}
		return mustMarshalStub(degradedPayload{
			Degraded:  true,
			Reason:    "payload exceeds size limit",
			Keys:      keys,
			Sample:    string(sample),
			SizeBytes: len(raw),
		})
	}
	return raw
}

// IsDegradedPayload reports whether raw is a degradation stub produced by
// EncodePayload rather than an original payload.
func IsDegradedPayload(raw []byte) bool {
	var stub struct {
		Degraded bool `json:"payload_degraded"`
	}
	if err := json.Unmarshal(raw, &stub); err != nil {
		return false
	}
	return stub.Degraded
}

// mustMarshalStub marshals the degradation stub. The stub contains only
// strings, ints and a bool, so marshaling cannot fail; the fallback exists to
// keep the function total.
func mustMarshalStub(stub degradedPayload) []byte {
	raw, err := json.Marshal(stub)
	if err != nil {
		return []byte(`{"payload_degraded":true,"reason":"stub marshal failed"}`)
	}
	return raw
}
