package topics

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
)

type fieldKind int

const (
	kindObject fieldKind = iota
	kindString
	kindNumber
)

type field struct {
	name string
	kind fieldKind
}

// actionSchema maps each accepted action literal to its required fields.
type actionSchema map[string][]field

var toggles = actionSchema{
	ActionClear:         nil,
	ActionHide:          nil,
	ActionShow:          nil,
	ActionRotate:        nil,
	ActionCounterRotate: nil,
	ActionFlip:          nil,
	ActionTurnOver:      nil,
}

var socketSchemas = map[Topic]actionSchema{
	TopicCard: withEntries(toggles, actionSchema{
		ActionSet: {{"card", kindObject}},
	}),
	TopicOpCard: {
		ActionSet:   {{"card", kindObject}},
		ActionClear: nil,
		ActionHide:  nil,
		ActionShow:  nil,
	},
	TopicConfig: {
		ActionSet:   {{"config", kindObject}},
		ActionClear: nil,
	},
	TopicEvent: {
		ActionSet:   {{"event", kindObject}},
		ActionClear: nil,
	},
	TopicMatches: {
		ActionAdd:    nil,
		ActionRemove: {{"id", kindString}},
		ActionSet:    {{"match", kindObject}},
		ActionClock:  {{"id", kindString}, {"clockAction", kindString}},
	},
}

var apiSchemas = map[Topic]actionSchema{
	TopicCard:    socketSchemas[TopicCard],
	TopicOpCard:  socketSchemas[TopicOpCard],
	TopicConfig:  socketSchemas[TopicConfig],
	TopicEvent:   socketSchemas[TopicEvent],
	TopicMatches: {
		ActionAdd:    nil,
		ActionRemove: {{"index", kindNumber}},
		ActionSet: {
			{"index", kindNumber},
			{"tableNumber", kindString},
			{"playerOne", kindObject},
			{"playerTwo", kindObject},
		},
		ActionClock: {{"id", kindString}, {"clockAction", kindString}},
	},
}

var decoders = map[Topic]func() Action{
	TopicCard:    func() Action { return &CardAction{} },
	TopicOpCard:  func() Action { return &OpCardAction{} },
	TopicConfig:  func() Action { return &ConfigAction{} },
	TopicEvent:   func() Action { return &EventAction{} },
	TopicMatches: func() Action { return &MatchesAction{} },
}

func withEntries(base, extra actionSchema) actionSchema {
	out := maps.Clone(base)
	maps.Copy(out, extra)
	return out
}

// ActionNames lists the action literals a topic accepts over the socket.
func ActionNames(topic Topic) []string {
	return slices.Sorted(maps.Keys(socketSchemas[topic]))
}

// Validate checks a socket action payload against the topic's schema and decodes it.
func Validate(topic Topic, payload json.RawMessage) (Action, error) {
	return validate(socketSchemas, topic, payload)
}

// ValidateAPICall checks an HTTP call. The action literal comes from the route and is merged
// into the body, which may be empty.
func ValidateAPICall(topic Topic, action string, body json.RawMessage) (Action, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, &ValidationError{Topic: topic, Action: action, Reason: "body must be a JSON object"}
		}
	}
	name, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	fields["action"] = name

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return validate(apiSchemas, topic, merged)
}

func validate(schemas map[Topic]actionSchema, topic Topic, payload json.RawMessage) (Action, error) {
	if _, err := ParseTopic(string(topic)); err != nil {
		return nil, err
	}
	schema, ok := schemas[topic]
	if !ok {
		return nil, &ValidationError{Topic: topic, Reason: "accepts no actions"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, &ValidationError{Topic: topic, Reason: "payload must be a JSON object"}
	}

	var name string
	if err := json.Unmarshal(fields["action"], &name); err != nil || name == "" {
		return nil, &ValidationError{Topic: topic, Field: "action", Reason: "is required"}
	}

	required, ok := schema[name]
	if !ok {
		return nil, &ValidationError{Topic: topic, Action: name, Reason: "unknown action"}
	}
	for _, f := range required {
		if !matchesKind(fields[f.name], f.kind) {
			return nil, &ValidationError{Topic: topic, Action: name, Field: f.name, Reason: kindReason(f.kind)}
		}
	}

	act := decoders[topic]()
	if err := json.Unmarshal(payload, act); err != nil {
		return nil, &ValidationError{Topic: topic, Action: name, Reason: err.Error()}
	}
	if v, ok := act.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return act, nil
}

func matchesKind(raw json.RawMessage, kind fieldKind) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch kind {
	case kindObject:
		return raw[0] == '{'
	case kindString:
		return raw[0] == '"' && len(raw) > 2
	case kindNumber:
		return raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')
	}
	return false
}

func kindReason(kind fieldKind) string {
	switch kind {
	case kindObject:
		return "must be an object"
	case kindString:
		return "must be a non-empty string"
	default:
		return "must be a number"
	}
}
