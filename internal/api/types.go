package api

import (
	"github.com/matheus3301/wppcrm/internal/assign"
	"github.com/matheus3301/wppcrm/internal/message"
	"github.com/matheus3301/wppcrm/internal/roster"
	"github.com/matheus3301/wppcrm/internal/store"
)

// Empty is the request and response of calls without arguments.
type Empty struct{}

type ListContactsRequest struct {
	Tags  []string `json:"tags,omitempty"`
	Query string   `json:"query,omitempty"`
	// Page is zero-based.
	Page int `json:"page,omitempty"`
}

// ContactView is a contact as listed to clients.
type ContactView struct {
	ID              string   `json:"id"`
	ChatID          string   `json:"chatId"`
	Name            string   `json:"name"`
	Phone           string   `json:"phone,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	UnreadCount     int      `json:"unreadCount,omitempty"`
	Pinned          bool     `json:"pinned,omitempty"`
	Line            int      `json:"line"`
	AssignedTo      string   `json:"assignedTo,omitempty"`
	LastMessageText string   `json:"lastMessageText,omitempty"`
	LastMessageAtMs int64    `json:"lastMessageAtMs,omitempty"`
}

type ListContactsResponse struct {
	Contacts  []ContactView `json:"contacts"`
	Total     int           `json:"total"`
	Page      int           `json:"page"`
	PageCount int           `json:"pageCount"`
}

type ListEmployeesResponse struct {
	Employees []roster.Employee `json:"employees"`
}

type AssignRequest struct {
	ContactID string `json:"contactId"`
	Employee  string `json:"employee"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Type           string `json:"type,omitempty"`
	Text           string `json:"text,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	FileName       string `json:"fileName,omitempty"`
}

type SendMessageResponse struct {
	TempID string `json:"tempId"`
	State  string `json:"state"`
}

type SendStatusRequest struct {
	TempID string `json:"tempId"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []message.Envelope `json:"messages"`
	Open     bool               `json:"open"`
}

type ListOutboxResponse struct {
	Entries []store.OutboxEntry `json:"entries"`
}

type ReconcileResponse struct {
	Drifts []assign.Drift `json:"drifts"`
}

type StatsResponse struct {
	Profile           string           `json:"profile"`
	Operator          string           `json:"operator"`
	UptimeMs          int64            `json:"uptimeMs"`
	Contacts          int              `json:"contacts"`
	BotStopped        int              `json:"botStopped"`
	AllBotsStopped    bool             `json:"allBotsStopped"`
	Employees         int              `json:"employees"`
	OpenConversations []string         `json:"openConversations"`
	Outbox            map[string]int64 `json:"outbox"`
}

// Document is a raw document written through PutDocuments.
type Document struct {
	Path string         `json:"path"`
	Data map[string]any `json:"data"`
}

type PutDocumentsRequest struct {
	Documents []Document `json:"documents"`
}

type PutDocumentsResponse struct {
	Written int `json:"written"`
}

type WatchRequest struct {
	// Prefix selects bus event kinds; empty means all.
	Prefix string `json:"prefix,omitempty"`
}

// EventView is one streamed bus event.
type EventView struct {
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurredAtUnixMs"`
	Payload          any    `json:"payload,omitempty"`
}

func contactView(c roster.Contact) ContactView {
	return ContactView{
		ID:              c.ID,
		ChatID:          c.ChatID,
		Name:            c.Name,
		Phone:           c.Phone,
		Tags:            c.Tags,
		UnreadCount:     c.UnreadCount,
		Pinned:          c.Pinned,
		Line:            c.Line(),
		AssignedTo:      c.AssignedTo,
		LastMessageText: c.LastMessageText,
		LastMessageAtMs: c.LastMessageAtMs,
	}
}
