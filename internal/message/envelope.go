package message

import (
	"encoding/json"
	"fmt"
)

// Type is the message kind tag carried by every record.
type Type string

const (
	TypeText         Type = "text"
	TypeChat         Type = "chat"
	TypeImage        Type = "image"
	TypeVideo        Type = "video"
	TypeGIF          Type = "gif"
	TypeAudio        Type = "audio"
	TypeVoice        Type = "voice"
	TypePTT          Type = "ptt"
	TypeDocument     Type = "document"
	TypeSticker      Type = "sticker"
	TypeLocation     Type = "location"
	TypeLiveLocation Type = "live_location"
	TypeContact      Type = "contact"
	TypeContactList  Type = "contact_list"
	TypeLinkPreview  Type = "link_preview"
	TypePoll         Type = "poll"
	TypeCallLog      Type = "call_log"
	TypeOrder        Type = "order"
	TypeProduct      Type = "product"
	TypeGroupInvite  Type = "group_invite"
	TypeSystem       Type = "system"
	TypeAction       Type = "action"
	TypePrivateNote  Type = "privateNote"
)

// Reaction is an emoji attached to an envelope by another record.
type Reaction struct {
	Emoji      string `json:"emoji"`
	AuthorName string `json:"authorName"`
}

// Envelope is the canonical, normalized form of one chat message.
// CreatedAtMs is always a millisecond epoch.
type Envelope struct {
	ID             string
	ConversationID string
	FromMe         bool
	AuthorName     string
	CreatedAtMs    int64
	Type           Type
	// Payload is nil for unrecognized types.
	Payload       Payload
	Reactions     []Reaction
	Edited        bool
	IsPrivateNote bool
}

// Payload is the type-specific body of an envelope. Exactly one variant
// exists per family of message types.
type Payload interface {
	isPayload()
}

// Text carries plain text bodies (text, chat, privateNote, system).
type Text struct {
	Body string `json:"body"`
}

// Media carries image, video, gif, audio, voice, ptt, document and sticker bodies.
type Media struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Location carries location and live_location bodies.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url,omitempty"`
	Caption   string  `json:"caption,omitempty"`
}

// PollResult is the vote tally for one option.
type PollResult struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Poll carries a poll question and its tallies.
type Poll struct {
	Title   string       `json:"title"`
	Options []string     `json:"options,omitempty"`
	Total   int          `json:"total,omitempty"`
	Results []PollResult `json:"results,omitempty"`
}

// CallLog records a voice or video call.
type CallLog struct {
	Status   string `json:"status,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Video    bool   `json:"video,omitempty"`
}

// Contact carries a shared vCard.
type Contact struct {
	Name  string `json:"name"`
	VCard string `json:"vcard,omitempty"`
}

// ContactList carries several shared vCards.
type ContactList struct {
	List []Contact `json:"list"`
}

// LinkPreview carries a text body with a rendered link card.
type LinkPreview struct {
	Body        string `json:"body"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Preview     string `json:"preview,omitempty"`
}

// Order carries a catalog order summary.
type Order struct {
	OrderID    string `json:"order_id"`
	Seller     string `json:"seller,omitempty"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
	Status     string `json:"status,omitempty"`
	ItemCount  int    `json:"item_count,omitempty"`
	Currency   string `json:"currency,omitempty"`
	TotalPrice int64  `json:"total_price,omitempty"`
}

// Product carries a single catalog product.
type Product struct {
	ProductID   string `json:"product_id"`
	CatalogID   string `json:"catalog_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Price       int64  `json:"price,omitempty"`
}

// GroupInvite carries a group invitation link.
type GroupInvite struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// Action carries non-folded actions (deletes, pins) so ordering is kept.
type Action struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

func (*Text) isPayload()        {}
func (*Media) isPayload()       {}
func (*Location) isPayload()    {}
func (*Poll) isPayload()        {}
func (*CallLog) isPayload()     {}
func (*Contact) isPayload()     {}
func (*ContactList) isPayload() {}
func (*LinkPreview) isPayload() {}
func (*Order) isPayload()       {}
func (*Product) isPayload()     {}
func (*GroupInvite) isPayload() {}
func (*Action) isPayload()      {}

// variant describes where a type's payload lives in a raw record and
// which Go type it decodes into.
type variant struct {
	keys []string
	make func() Payload
}

func textVariant(keys ...string) variant {
	return variant{keys: keys, make: func() Payload { return &Text{} }}
}

func mediaVariant(keys ...string) variant {
	return variant{keys: keys, make: func() Payload { return &Media{} }}
}

var variants = map[Type]variant{
	TypeText:         textVariant("text"),
	TypeChat:         textVariant("text", "body"),
	TypeSystem:       textVariant("system", "text"),
	TypePrivateNote:  textVariant("text"),
	TypeImage:        mediaVariant("image"),
	TypeVideo:        mediaVariant("video"),
	TypeGIF:          mediaVariant("gif"),
	TypeAudio:        mediaVariant("audio"),
	TypeVoice:        mediaVariant("voice"),
	TypePTT:          mediaVariant("ptt", "voice"),
	TypeDocument:     mediaVariant("document"),
	TypeSticker:      mediaVariant("sticker"),
	TypeLocation:     {keys: []string{"location"}, make: func() Payload { return &Location{} }},
	TypeLiveLocation: {keys: []string{"live_location"}, make: func() Payload { return &Location{} }},
	TypePoll:         {keys: []string{"poll"}, make: func() Payload { return &Poll{} }},
	TypeCallLog:      {keys: []string{"call_log", "callLog"}, make: func() Payload { return &CallLog{} }},
	TypeContact:      {keys: []string{"contact"}, make: func() Payload { return &Contact{} }},
	TypeContactList:  {keys: []string{"contact_list"}, make: func() Payload { return &ContactList{} }},
	TypeLinkPreview:  {keys: []string{"link_preview"}, make: func() Payload { return &LinkPreview{} }},
	TypeOrder:        {keys: []string{"order"}, make: func() Payload { return &Order{} }},
	TypeProduct:      {keys: []string{"product"}, make: func() Payload { return &Product{} }},
	TypeGroupInvite:  {keys: []string{"group_invite"}, make: func() Payload { return &GroupInvite{} }},
	TypeAction:       {keys: []string{"action"}, make: func() Payload { return &Action{} }},
}

// Known reports whether t has a payload variant.
func Known(t Type) bool {
	_, ok := variants[t]
	return ok
}

// Body returns the human-readable text of an envelope, used for previews
// and search. Media captions count as text.
func (e Envelope) Body() string {
	switch p := e.Payload.(type) {
	case *Text:
		return p.Body
	case *Media:
		return p.Caption
	case *LinkPreview:
		return p.Body
	case *Location:
		return p.Name
	case *Poll:
		return p.Title
	case *Contact:
		return p.Name
	case *Order:
		return p.Text
	case *Product:
		return p.Title
	case *GroupInvite:
		return p.Body
	default:
		return ""
	}
}

type envelopeJSON struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	FromMe         bool            `json:"fromMe"`
	AuthorName     string          `json:"authorName,omitempty"`
	CreatedAtMs    int64           `json:"createdAtMs"`
	Type           Type            `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Reactions      []Reaction      `json:"reactions,omitempty"`
	Edited         bool            `json:"edited,omitempty"`
	IsPrivateNote  bool            `json:"isPrivateNote,omitempty"`
}

// MarshalJSON encodes the payload next to its type tag.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := envelopeJSON{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		FromMe:         e.FromMe,
		AuthorName:     e.AuthorName,
		CreatedAtMs:    e.CreatedAtMs,
		Type:           e.Type,
		Reactions:      e.Reactions,
		Edited:         e.Edited,
		IsPrivateNote:  e.IsPrivateNote,
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", e.Type, err)
		}
		out.Payload = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the payload into the variant selected by the type tag.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Envelope{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		FromMe:         in.FromMe,
		AuthorName:     in.AuthorName,
		CreatedAtMs:    in.CreatedAtMs,
		Type:           in.Type,
		Reactions:      in.Reactions,
		Edited:         in.Edited,
		IsPrivateNote:  in.IsPrivateNote,
	}
	v, ok := variants[in.Type]
	if !ok || len(in.Payload) == 0 || string(in.Payload) == "null" {
		return nil
	}
	p := v.make()
	if err := json.Unmarshal(in.Payload, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", in.Type, err)
	}
	e.Payload = p
	return nil
}
