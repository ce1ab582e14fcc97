package store

// OutboxEntry is one optimistic send as recorded in the journal.
type OutboxEntry struct {
	TempID         string `json:"tempId"`
	ConversationID string `json:"conversationId"`
	MessageType    string `json:"type"`
	Body           string `json:"body"`
	AuthorName     string `json:"authorName"`
	State          string `json:"state"` // pending_local, pending_remote, confirmed, rolled_back
	ErrorMessage   string `json:"error,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}
