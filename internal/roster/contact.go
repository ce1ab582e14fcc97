package roster

import (
	"strings"

	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/message"
)

// GroupSuffix ends the chat id of group conversations.
const GroupSuffix = "@g.us"

// Tags with a fixed meaning; all comparisons are case-insensitive.
const (
	TagAll        = "all"
	TagUnread     = "unread"
	TagMine       = "mine"
	TagUnassigned = "unassigned"
	TagSnooze     = "snooze"
	TagResolved   = "resolved"
	TagStopBot    = "stop bot"
	TagActiveBot  = "active bot"
	TagGroup      = "group"
)

// Contact is one conversation partner as listed in the roster.
type Contact struct {
	ID          string
	ChatID      string
	Name        string
	Phone       string
	Tags        []string
	UnreadCount int
	Pinned      bool
	// PhoneIndex is the company line the contact talks to; nil means line 0.
	PhoneIndex      *int
	AssignedTo      string
	LastMessageText string
	// LastMessageAtMs is normalized; 0 when missing or malformed.
	LastMessageAtMs int64
}

// HasTag reports whether the contact carries tag, ignoring case.
func (c Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// IsGroup reports whether the contact is a group chat.
func (c Contact) IsGroup() bool {
	return strings.HasSuffix(c.ChatID, GroupSuffix)
}

// Line returns the phone line index of the contact.
func (c Contact) Line() int {
	if c.PhoneIndex == nil {
		return 0
	}
	return *c.PhoneIndex
}

func (c Contact) botStopped() bool {
	return c.HasTag(TagStopBot)
}

type contactDoc struct {
	ChatID      string   `json:"chat_id"`
	Name        string   `json:"contactName"`
	AltName     string   `json:"name"`
	Phone       string   `json:"phone"`
	Tags        []string `json:"tags"`
	UnreadCount int      `json:"unreadCount"`
	Pinned      bool     `json:"pinned"`
	PhoneIndex  *int     `json:"phoneIndex"`
	AssignedTo  string   `json:"assignedTo"`
	LastMessage *struct {
		Text      any `json:"text"`
		Timestamp any `json:"timestamp"`
	} `json:"last_message"`
}

// ContactFromDocument decodes a contact document.
func ContactFromDocument(doc gateway.Document) (Contact, error) {
	var d contactDoc
	if err := gateway.Decode(doc, &d); err != nil {
		return Contact{}, err
	}
	c := Contact{
		ID:          doc.ID(),
		ChatID:      d.ChatID,
		Name:        d.Name,
		Phone:       d.Phone,
		Tags:        d.Tags,
		UnreadCount: d.UnreadCount,
		Pinned:      d.Pinned,
		PhoneIndex:  d.PhoneIndex,
		AssignedTo:  d.AssignedTo,
	}
	if c.Name == "" {
		c.Name = d.AltName
	}
	if c.ChatID == "" {
		c.ChatID = c.ID
	}
	if d.LastMessage != nil {
		switch t := d.LastMessage.Text.(type) {
		case string:
			c.LastMessageText = t
		case map[string]any:
			c.LastMessageText, _ = t["body"].(string)
		}
		c.LastMessageAtMs = message.NormalizeTimestampOrZero(d.LastMessage.Timestamp)
	}
	return c, nil
}

// Employee is a member of the company staff.
type Employee struct {
	ID               string `json:"-"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phoneNumber,omitempty"`
	QuotaLeads       int64  `json:"quotaLeads"`
	AssignedContacts int64  `json:"assignedContacts"`
}

// EmployeeFromDocument decodes an employee document.
func EmployeeFromDocument(doc gateway.Document) (Employee, error) {
	var e Employee
	if err := gateway.Decode(doc, &e); err != nil {
		return Employee{}, err
	}
	e.ID = doc.ID()
	return e, nil
}
