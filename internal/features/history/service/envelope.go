package service

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
)

// payloadKeys are tried in order for the body of status-style envelopes
var payloadKeys = []string{"result", "html", "content", "data", "graph"}

// envelope is one unwrapped render response
type envelope struct {
	// Payload is the HTML fragment or JSON text inside the envelope
	Payload string
	// Wrapped is set when the body was a recognised JSON envelope
	Wrapped bool
	// Err is a RenderError for error envelopes
	Err error
}

// decodeEnvelope unwraps one JSON envelope layer. Bodies that are not JSON
// objects are returned as raw markup.
func decodeEnvelope(status int, body []byte) envelope {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return envelope{Payload: string(body)}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return envelope{Payload: string(body)}
	}

	if rawCode, ok := obj["result_code"]; ok {
		code, _ := rawInt(rawCode)
		if code != 0 {
			return envelope{
				Wrapped: true,
				Err:     common.NewRenderError(status, code, rawText(obj["result"]), rawText(obj["severity"])),
			}
		}
		return envelope{Payload: rawText(obj["result"]), Wrapped: true}
	}

	if rawStatus, ok := obj["status"]; ok {
		switch strings.ToLower(rawText(rawStatus)) {
		case "ok", "success":
			return envelope{Payload: firstPayload(obj), Wrapped: true}
		case "error", "fail", "failed", "failure":
			return envelope{Wrapped: true, Err: envelopeError(status, obj)}
		}
	}

	if rawSuccess, ok := obj["success"]; ok {
		var success bool
		if err := json.Unmarshal(rawSuccess, &success); err == nil {
			if success {
				return envelope{Payload: firstPayload(obj), Wrapped: true}
			}
			return envelope{Wrapped: true, Err: envelopeError(status, obj)}
		}
	}

	// A bare JSON object, e.g. a graph export artwork
	return envelope{Payload: string(trimmed)}
}

func envelopeError(status int, obj map[string]json.RawMessage) error {
	message := rawText(obj["message"])
	if message == "" {
		message = rawText(obj["error"])
	}
	code := -1
	if rawCode, ok := obj["code"]; ok {
		if c, ok := rawInt(rawCode); ok {
			code = c
		}
	}
	severity := rawText(obj["severity"])
	if severity == "" {
		severity = "error"
	}
	return common.NewRenderError(status, code, message, severity)
}

func firstPayload(obj map[string]json.RawMessage) string {
	for _, key := range payloadKeys {
		if raw, ok := obj[key]; ok && !isJSONNull(raw) {
			return rawText(raw)
		}
	}
	return ""
}

// rawText returns a JSON string unquoted and anything else as JSON text
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || isJSONNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func rawInt(raw json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
