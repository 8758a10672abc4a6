package session

import (
	"encoding/json"
	"fmt"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/errorsx"
)

// captureFailure is the total-failure sentinel stored when a payload cannot
// be serialized in any form.
type captureFailure struct {
	Reason       string `json:"reason"`
	CaptureError string `json:"capture_error"`
}

// EncodeRaw serializes a provider payload for capture with ordered fallback:
// structured form, then string form, then an error sentinel. It never panics
// and never returns an empty message, so the captured event count always
// matches the events seen.
func EncodeRaw(v any) json.RawMessage {
	raw, err := marshalSafe(v)
	if err == nil {
		return raw
	}
	text, terr := marshalSafe(stringify(v))
	if terr == nil {
		return text
	}
	return captureSentinel(err)
}

func captureSentinel(err error) json.RawMessage {
	reasoned := errorsx.Wrap(err, errorsx.ReasonCapture)
	sentinel, serr := json.Marshal(captureFailure{
		Reason:       string(errorsx.Reason(reasoned)),
		CaptureError: reasoned.Error(),
	})
	if serr != nil {
		return json.RawMessage(`{"capture_error":"unserializable payload"}`)
	}
	return sentinel
}

func marshalSafe(v any) (raw json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("marshal panic: %v", r)
		}
	}()
	return json.Marshal(v)
}

func stringify(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("unprintable payload: %v", r)
		}
	}()
	return fmt.Sprintf("%+v", v)
}
