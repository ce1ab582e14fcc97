// Package message turns heterogeneous raw message records into canonical
// envelopes ordered on a conversation timeline.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ErrUnknownType marks a record whose type has no payload variant. The
// envelope is still produced, without a payload.
var ErrUnknownType = errors.New("unknown message type")

// ValidationError reports a raw record that cannot become an envelope.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message record: %s %s", e.Field, e.Reason)
}

// Record is a raw message document as delivered by the remote store.
type Record = map[string]any

// Context carries the per-call facts a record does not contain itself.
type Context struct {
	ConversationID string
	// SelfName is the author name used for records sent by the operator.
	SelfName string
}

// Normalizer converts raw records into envelopes. It is stateless apart
// from its logger and safe for concurrent use.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a normalizer that logs warnings to logger.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize converts one raw record. Reaction and edit actions return a nil
// envelope because they only patch other envelopes; see NormalizeBatch.
func (n *Normalizer) Normalize(raw Record, nctx Context) (*Envelope, error) {
	if raw == nil {
		return nil, &ValidationError{Field: "record", Reason: "is nil"}
	}
	id := str(raw["id"])
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "is missing"}
	}
	typ := Type(str(raw["type"]))
	if typ == TypeAction {
		if _, folded := foldable(raw); folded {
			return nil, nil
		}
	}

	env := &Envelope{
		ID:             id,
		ConversationID: nctx.ConversationID,
		FromMe:         boolean(raw["from_me"]) || boolean(raw["fromMe"]),
		Type:           typ,
		Edited:         boolean(raw["edited"]),
	}
	if chat := str(raw["chat_id"]); env.ConversationID == "" {
		env.ConversationID = chat
	}
	env.AuthorName = firstString(raw, "from_name", "author", "authorName")
	if env.AuthorName == "" && env.FromMe {
		env.AuthorName = nctx.SelfName
	}
	env.CreatedAtMs = n.timestamp(raw, id)

	payload, err := n.payload(typ, raw)
	if err != nil {
		n.logger.Warn("message payload dropped",
			zap.String("msg_id", id),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
	env.Payload = payload
	return env, nil
}

// NormalizeNote converts a private-note record. Notes are always authored by
// the operator side and carry a text payload.
func (n *Normalizer) NormalizeNote(raw Record, nctx Context) (*Envelope, error) {
	if raw == nil {
		return nil, &ValidationError{Field: "record", Reason: "is nil"}
	}
	id := str(raw["id"])
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "is missing"}
	}
	author := firstString(raw, "from", "author", "from_name")
	if author == "" {
		author = nctx.SelfName
	}
	return &Envelope{
		ID:             id,
		ConversationID: nctx.ConversationID,
		FromMe:         true,
		AuthorName:     author,
		CreatedAtMs:    n.timestamp(raw, id),
		Type:           TypePrivateNote,
		Payload:        &Text{Body: textBody(raw["text"])},
		IsPrivateNote:  true,
	}, nil
}

// NormalizeBatch converts a batch in two passes. The first pass collects
// reactions and edits keyed by target id; the second builds envelopes and
// attaches them. Envelope ids are unique in the result; a later record with
// the same id replaces the earlier one in place. Input order is kept.
func (n *Normalizer) NormalizeBatch(raws []Record, nctx Context) []Envelope {
	reactions := make(map[string][]Reaction)
	edits := make(map[string]string)
	for _, raw := range raws {
		act, ok := foldable(raw)
		if !ok {
			continue
		}
		switch act.kind {
		case "reaction":
			if act.emoji == "" {
				continue
			}
			reactions[act.target] = append(reactions[act.target], Reaction{
				Emoji:      act.emoji,
				AuthorName: firstString(raw, "from_name", "author"),
			})
		case "edit":
			edits[act.target] = act.body
		}
	}

	out := make([]Envelope, 0, len(raws))
	index := make(map[string]int, len(raws))
	for _, raw := range raws {
		env, err := n.Normalize(raw, nctx)
		if err != nil {
			n.logger.Warn("message record skipped", zap.String("conversation", nctx.ConversationID), zap.Error(err))
			continue
		}
		if env == nil {
			continue
		}
		if rs, ok := reactions[env.ID]; ok {
			env.Reactions = append(env.Reactions, rs...)
		}
		if body, ok := edits[env.ID]; ok {
			applyEdit(env, body)
		}
		if i, dup := index[env.ID]; dup {
			out[i] = *env
			continue
		}
		index[env.ID] = len(out)
		out = append(out, *env)
	}
	return out
}

// Merge normalizes ordinary messages and private notes of one conversation
// and returns them sorted ascending by CreatedAtMs. Equal timestamps keep
// messages before notes, each in input order.
func (n *Normalizer) Merge(messages, notes []Record, nctx Context) []Envelope {
	out := n.NormalizeBatch(messages, nctx)
	seen := make(map[string]struct{}, len(out))
	for _, e := range out {
		seen[e.ID] = struct{}{}
	}
	for _, raw := range notes {
		env, err := n.NormalizeNote(raw, nctx)
		if err != nil {
			n.logger.Warn("private note skipped", zap.String("conversation", nctx.ConversationID), zap.Error(err))
			continue
		}
		if _, dup := seen[env.ID]; dup {
			continue
		}
		seen[env.ID] = struct{}{}
		out = append(out, *env)
	}
	SortAscending(out)
	return out
}

// SortAscending orders envelopes oldest first, keeping ties stable.
func SortAscending(envs []Envelope) {
	sort.SliceStable(envs, func(i, j int) bool {
		return envs[i].CreatedAtMs < envs[j].CreatedAtMs
	})
}

func (n *Normalizer) timestamp(raw Record, id string) int64 {
	v, ok := raw["timestamp"]
	if !ok {
		v = raw["createdAt"]
	}
	ms, err := NormalizeTimestamp(v)
	if err != nil {
		n.logger.Warn("timestamp defaulted to epoch", zap.String("msg_id", id), zap.Error(err))
	}
	return ms
}

func (n *Normalizer) payload(typ Type, raw Record) (Payload, error) {
	v, ok := variants[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	p := v.make()
	for _, key := range v.keys {
		sub, ok := raw[key]
		if !ok || sub == nil {
			continue
		}
		if t, isText := p.(*Text); isText {
			t.Body = textBody(sub)
			return t, nil
		}
		if err := remarshal(sub, p); err != nil {
			return v.make(), fmt.Errorf("decode %s: %w", key, err)
		}
		return p, nil
	}
	return p, nil
}

type foldedAction struct {
	kind   string
	target string
	emoji  string
	body   string
}

// foldable reports whether raw is an action that patches another envelope.
func foldable(raw Record) (foldedAction, bool) {
	if Type(str(raw["type"])) != TypeAction {
		return foldedAction{}, false
	}
	action, ok := raw["action"].(map[string]any)
	if !ok {
		return foldedAction{}, false
	}
	act := foldedAction{kind: str(action["type"]), target: str(action["target"])}
	if act.target == "" {
		return foldedAction{}, false
	}
	switch act.kind {
	case "reaction":
		act.emoji = str(action["emoji"])
		return act, true
	case "edit":
		act.body = textBody(action["edited_content"])
		return act, true
	default:
		return foldedAction{}, false
	}
}

func applyEdit(env *Envelope, body string) {
	env.Edited = true
	switch p := env.Payload.(type) {
	case *Text:
		p.Body = body
	case *Media:
		p.Caption = body
	case *LinkPreview:
		p.Body = body
	}
}

func remarshal(src any, dst Payload) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// textBody accepts both a bare string and an object with a body field.
func textBody(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return str(t["body"])
	default:
		return ""
	}
}

func firstString(raw Record, keys ...string) string {
	for _, k := range keys {
		if s := str(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}
