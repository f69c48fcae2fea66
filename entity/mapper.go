package entity

import (
	"encoding/json"
	"fmt"
)

// Wire shapes for the server's entity payloads. Contacts arrive either
// bare or wrapped in a {"contact": {...}} envelope (the profile inside
// the login response uses the wrapped form).

type wireName struct {
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type wireUser struct {
	ID      int64      `json:"id"`
	Phone   int64      `json:"phone"`
	Names   []wireName `json:"names"`
	PhotoID int64      `json:"photoId"`
	BaseURL string     `json:"baseUrl"`
}

type wireMessage struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Sender   int64             `json:"sender"`
	Time     int64             `json:"time"`
	Type     string            `json:"type"`
	Attaches []json.RawMessage `json:"attaches"`
}

type wireChat struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Participants map[int64]int64 `json:"participants"`
	LastMessage  json.RawMessage `json:"lastMessage"`
	Owner        int64           `json:"owner"`
	Created      int64           `json:"created"`
	Modified     int64           `json:"modified"`
	Status       string          `json:"status"`
}

// UserFromPayload parses a contact payload into a User. Both the bare
// contact shape and the {"contact": {...}} envelope are accepted.
func UserFromPayload(raw json.RawMessage) (*User, error) {
	var envelope struct {
		Contact *wireUser `json:"contact"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Contact != nil {
		return userFromWire(envelope.Contact), nil
	}

	var w wireUser
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse user payload: %w", err)
	}
	return userFromWire(&w), nil
}

func userFromWire(w *wireUser) *User {
	u := &User{
		ID:      w.ID,
		Phone:   w.Phone,
		PhotoID: w.PhotoID,
		BaseURL: w.BaseURL,
	}
	if len(w.Names) > 0 {
		u.Name = w.Names[0].Name
		u.FirstName = w.Names[0].FirstName
		u.LastName = w.Names[0].LastName
	}
	return u
}

// UserPatchFromPayload parses a partial contact update. Only keys present
// in the payload produce patch fields; absent keys leave the cached
// record untouched.
func UserPatchFromPayload(raw json.RawMessage) (int64, UserPatch, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return 0, UserPatch{}, fmt.Errorf("parse user patch: %w", err)
	}

	var w wireUser
	if err := json.Unmarshal(raw, &w); err != nil {
		return 0, UserPatch{}, fmt.Errorf("parse user patch: %w", err)
	}
	if w.ID == 0 {
		return 0, UserPatch{}, fmt.Errorf("user patch without id")
	}

	var patch UserPatch
	if _, ok := keys["phone"]; ok {
		patch.Phone = &w.Phone
	}
	if _, ok := keys["names"]; ok && len(w.Names) > 0 {
		patch.Name = &w.Names[0].Name
		patch.FirstName = &w.Names[0].FirstName
		patch.LastName = &w.Names[0].LastName
	}
	if _, ok := keys["photoId"]; ok {
		patch.PhotoID = &w.PhotoID
	}
	if _, ok := keys["baseUrl"]; ok {
		patch.BaseURL = &w.BaseURL
	}
	return w.ID, patch, nil
}

// MessageFromPayload parses a message object that belongs to chatID.
func MessageFromPayload(raw json.RawMessage, chatID int64) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse message payload: %w", err)
	}
	msgType := w.Type
	if msgType == "" {
		msgType = "USER"
	}
	return &Message{
		ID:       w.ID,
		Text:     w.Text,
		Sender:   w.Sender,
		Time:     w.Time,
		ChatID:   chatID,
		Type:     msgType,
		Attaches: w.Attaches,
	}, nil
}

// ChatFromPayload parses a chat object, including its embedded last
// message when present.
func ChatFromPayload(raw json.RawMessage) (*Chat, error) {
	var w wireChat
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse chat payload: %w", err)
	}

	chatType := ChatType(w.Type)
	if chatType == "" {
		chatType = ChatTypeDialog
	}
	status := w.Status
	if status == "" {
		status = "ACTIVE"
	}

	chat := &Chat{
		ID:           w.ID,
		Type:         chatType,
		Title:        w.Title,
		Participants: w.Participants,
		Owner:        w.Owner,
		Created:      w.Created,
		Modified:     w.Modified,
		Status:       status,
	}
	if chat.Participants == nil {
		chat.Participants = make(map[int64]int64)
	}
	if len(w.LastMessage) > 0 && string(w.LastMessage) != "null" {
		msg, err := MessageFromPayload(w.LastMessage, w.ID)
		if err != nil {
			return nil, err
		}
		chat.LastMessage = msg
	}
	return chat, nil
}
