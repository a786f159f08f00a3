package protocol

import (
	"encoding/json"
	"maps"
)

// Ack answers an action that carried an id.
// Success acks merge Extra into the top level object; failures carry Error, Code and Details.
type Ack struct {
	Success   bool
	Timestamp int64
	Error     string
	Code      ErrorCode
	Details   string
	Extra     map[string]any
}

var ackKeys = []string{"success", "timestamp", "error", "code", "details"}

// OK builds a success ack.
func OK(timestamp int64, extra map[string]any) Ack {
	return Ack{Success: true, Timestamp: timestamp, Extra: extra}
}

// Failed builds a failure ack from any error.
func Failed(timestamp int64, err error) Ack {
	perr := AsError(err)
	return Ack{Timestamp: timestamp, Error: perr.Message, Code: perr.Code, Details: perr.Details}
}

// Err converts a failure ack back into an error.
func (a Ack) Err() error {
	if a.Success {
		return nil
	}
	return &Error{Code: a.Code, Message: a.Error, Details: a.Details, Status: a.Code.Status()}
}

func (a Ack) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+4)
	if a.Success {
		maps.Copy(out, a.Extra)
	}
	out["success"] = a.Success
	if a.Timestamp != 0 {
		out["timestamp"] = a.Timestamp
	}
	if !a.Success {
		out["error"] = a.Error
		if a.Code != "" {
			out["code"] = a.Code
		}
		if a.Details != "" {
			out["details"] = a.Details
		}
	}
	return json.Marshal(out)
}

func (a *Ack) UnmarshalJSON(data []byte) error {
	var known struct {
		Success   bool      `json:"success"`
		Timestamp int64     `json:"timestamp"`
		Error     string    `json:"error"`
		Code      ErrorCode `json:"code"`
		Details   string    `json:"details"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range ackKeys {
		delete(all, k)
	}

	*a = Ack{
		Success:   known.Success,
		Timestamp: known.Timestamp,
		Error:     known.Error,
		Code:      known.Code,
		Details:   known.Details,
	}
	if len(all) > 0 {
		a.Extra = make(map[string]any, len(all))
		for k, v := range all {
			a.Extra[k] = v
		}
	}
	return nil
}

// ExtraInto decodes one extra field into v.
func (a Ack) ExtraInto(key string, v any) error {
	raw, ok := a.Extra[key]
	if !ok {
		return nil
	}
	b, ok := raw.(json.RawMessage)
	if !ok {
		var err error
		if b, err = json.Marshal(raw); err != nil {
			return err
		}
	}
	return json.Unmarshal(b, v)
}
