package entity

import (
	"encoding/json"
	"fmt"
)

// ChatType distinguishes dialogs, group chats, and channels.
type ChatType string

const (
	ChatTypeDialog  ChatType = "DIALOG"
	ChatTypeChat    ChatType = "CHAT"
	ChatTypeChannel ChatType = "CHANNEL"
)

// Chat is the last-known representation of one conversation.
type Chat struct {
	ID           int64
	Type         ChatType
	Title        string
	Participants map[int64]int64
	LastMessage  *Message
	Owner        int64
	Created      int64
	Modified     int64
	Status       string
}

// DisplayName returns the chat title, falling back to a generic label
// for untitled dialogs. The cache backfills dialog titles from contact
// names as they arrive.
func (c *Chat) DisplayName() string {
	if c.Title != "" {
		return c.Title
	}
	return fmt.Sprintf("Chat %d", c.ID)
}

// User is the last-known representation of one contact.
type User struct {
	ID        int64
	Phone     int64
	Name      string
	FirstName string
	LastName  string
	PhotoID   int64
	BaseURL   string
}

// DisplayName returns the best available human-readable name.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.FirstName != "" || u.LastName != "" {
		if u.FirstName == "" {
			return u.LastName
		}
		if u.LastName == "" {
			return u.FirstName
		}
		return u.FirstName + " " + u.LastName
	}
	return fmt.Sprintf("User %d", u.ID)
}

// Message is one message as carried in a push or response payload.
type Message struct {
	ID       string
	Text     string
	Sender   int64
	Time     int64
	ChatID   int64
	Type     string
	Attaches []json.RawMessage
}

// UserPatch carries a partial user update. Only non-nil fields overwrite
// the cached record.
type UserPatch struct {
	Phone     *int64
	Name      *string
	FirstName *string
	LastName  *string
	PhotoID   *int64
	BaseURL   *string
}
