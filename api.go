package gomax

import (
	"context"
	"time"

	"github.com/opd-ai/gomax/entity"
	"github.com/opd-ai/gomax/protocol"
)

// sendMessageBody is the message object inside send requests.
type sendMessageBody struct {
	Text     string           `json:"text,omitempty"`
	CID      int64            `json:"cid"`
	Elements []map[string]any `json:"elements"`
	Attaches []map[string]any `json:"attaches"`
	ReplyTo  string           `json:"replyTo,omitempty"`
}

// SendMessage sends a text message to a chat. replyTo may carry the id
// of a message to reply to, or be empty. The confirmed message is
// returned and EventMessageSent is emitted.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, replyTo string) (*entity.Message, error) {
	body := sendMessageBody{
		Text:     text,
		CID:      time.Now().UnixMilli(),
		Elements: []map[string]any{},
		Attaches: []map[string]any{},
		ReplyTo:  replyTo,
	}
	return c.deliver(ctx, chatID, body)
}

// SendSticker sends a sticker to a chat.
func (c *Client) SendSticker(ctx context.Context, chatID, stickerID int64, replyTo string) (*entity.Message, error) {
	body := sendMessageBody{
		CID:      time.Now().UnixMilli(),
		Elements: []map[string]any{},
		Attaches: []map[string]any{
			{"_type": "STICKER", "stickerId": stickerID},
		},
		ReplyTo: replyTo,
	}
	return c.deliver(ctx, chatID, body)
}

func (c *Client) deliver(ctx context.Context, chatID int64, body sendMessageBody) (*entity.Message, error) {
	payload, err := c.Call(ctx, protocol.OpSendMessage, map[string]any{
		"chatId":  chatID,
		"message": body,
		"notify":  true,
	})
	if err != nil {
		return nil, err
	}

	msg, ok := c.parseMessagePayload(payload)
	if !ok {
		// Confirmation arrived but was unparseable; the message itself
		// went through.
		return nil, nil
	}
	c.cache.SetLastMessage(msg.ChatID, msg)
	c.dispatcher.Emit(EventMessageSent, msg)
	return msg, nil
}

// EditMessage replaces the text of a previously sent message.
func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID, text string) error {
	_, err := c.Call(ctx, protocol.OpEditMessage, map[string]any{
		"chatId":    chatID,
		"messageId": messageID,
		"text":      text,
	})
	return err
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID string) error {
	_, err := c.Call(ctx, protocol.OpDeleteMessage, map[string]any{
		"chatId":    chatID,
		"messageId": messageID,
	})
	return err
}

// SendReaction attaches an emoji reaction to a message.
func (c *Client) SendReaction(ctx context.Context, chatID int64, messageID, reaction string) error {
	if reaction == "" {
		reaction = "👍"
	}
	_, err := c.Call(ctx, protocol.OpReaction, map[string]any{
		"chatId":    chatID,
		"messageId": messageID,
		"reaction": map[string]any{
			"reactionType": "EMOJI",
			"id":           reaction,
		},
	})
	return err
}

// RequestChats fetches chats by id, refreshes the cache, and emits
// EventChatsUpdate.
func (c *Client) RequestChats(ctx context.Context, chatIDs []int64) ([]*entity.Chat, error) {
	payload, err := c.Call(ctx, protocol.OpChats, map[string]any{
		"chatIds": chatIDs,
	})
	if err != nil {
		return nil, err
	}

	chats := c.applyChatsPayload(payload)
	if len(chats) > 0 {
		c.dispatcher.Emit(EventChatsUpdate, chats)
	}
	return chats, nil
}

// RequestContacts fetches contacts by id, refreshes the cache, and emits
// EventContactsUpdate. Explicitly fetched contacts replace cached
// records wholesale.
func (c *Client) RequestContacts(ctx context.Context, contactIDs []int64) ([]*entity.User, error) {
	payload, err := c.Call(ctx, protocol.OpContacts, map[string]any{
		"contactIds": contactIDs,
	})
	if err != nil {
		return nil, err
	}

	users := c.applyContactsPayload(payload, false)
	if len(users) > 0 {
		c.dispatcher.Emit(EventContactsUpdate, users)
	}
	return users, nil
}

// GetChat returns the cached chat with the given id.
func (c *Client) GetChat(id int64) (*entity.Chat, bool) {
	return c.cache.Chat(id)
}

// GetUser returns the cached user with the given id.
func (c *Client) GetUser(id int64) (*entity.User, bool) {
	return c.cache.User(id)
}

// GetEntity returns the chat or, failing that, the user with the given
// id. The result is *entity.Chat or *entity.User.
func (c *Client) GetEntity(id int64) (any, bool) {
	if chat, ok := c.cache.Chat(id); ok {
		return chat, true
	}
	if user, ok := c.cache.User(id); ok {
		return user, true
	}
	return nil, false
}

// Chats returns a snapshot of all cached chats.
func (c *Client) Chats() []*entity.Chat {
	return c.cache.Chats()
}

// Users returns a snapshot of all cached users.
func (c *Client) Users() []*entity.User {
	return c.cache.Users()
}

// Self returns the authenticated user's profile, or nil before auth.
func (c *Client) Self() *entity.User {
	return c.cache.Self()
}
