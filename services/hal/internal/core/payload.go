package core

import (
	"encoding/json"

	"pwmlight-go/errcode"
)

// As converts a control payload to T. It accepts T, a non-nil *T, and JSON
// (json.RawMessage, []byte, string or a decoded map) so controls can arrive
// from a remote link. A nil payload is the zero value of T.
func As[T any](v any) (T, errcode.Code) {
	var zero T
	switch p := v.(type) {
	case nil:
		return zero, ""
	case T:
		return p, ""
	case *T:
		if p == nil {
			return zero, errcode.InvalidPayload
		}
		return *p, ""
	case json.RawMessage:
		return fromJSON[T](p)
	case []byte:
		return fromJSON[T](p)
	case string:
		return fromJSON[T]([]byte(p))
	case map[string]any:
		b, err := json.Marshal(p)
		if err != nil {
			return zero, errcode.InvalidPayload
		}
		return fromJSON[T](b)
	default:
		return zero, errcode.InvalidPayload
	}
}

// Params is As for builder parameters, where a missing payload is an error.
func Params[T any](v any) (T, error) {
	if v == nil {
		var zero T
		return zero, errcode.InvalidParams
	}
	p, code := As[T](v)
	if code != "" {
		return p, errcode.InvalidParams
	}
	return p, nil
}

func fromJSON[T any](b []byte) (T, errcode.Code) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return out, errcode.InvalidPayload
	}
	return out, ""
}
