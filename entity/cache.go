package entity

import "sync"

// Cache maps chat and user identifiers to their last-known
// representation. It is populated from the initial sync and kept current
// by subsequent pushes; readers from caller goroutines always see
// complete records. Each connection owns its own Cache.
type Cache struct {
	mu    sync.RWMutex
	chats map[int64]*Chat
	users map[int64]*User
	self  *User
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		chats: make(map[int64]*Chat),
		users: make(map[int64]*User),
	}
}

// SetSelf records the authenticated user's own profile.
func (c *Cache) SetSelf(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = u
}

// Self returns the authenticated user's profile, or nil before auth.
func (c *Cache) Self() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.self == nil {
		return nil
	}
	clone := *c.self
	return &clone
}

// UpsertChat stores a chat, replacing any previous record wholesale.
// Untitled dialogs are backfilled from already-known contact names.
func (c *Cache) UpsertChat(chat *Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chat.Type == ChatTypeDialog && chat.Title == "" {
		for pid := range chat.Participants {
			if u, ok := c.users[pid]; ok && u.Name != "" {
				chat.Title = u.Name
				break
			}
		}
	}
	c.chats[chat.ID] = chat
}

// UpsertUser stores a user, replacing any previous record wholesale, and
// backfills the title of an untitled dialog with the same id.
func (c *Cache) UpsertUser(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.users[u.ID] = u
	if chat, ok := c.chats[u.ID]; ok && chat.Title == "" && u.Name != "" {
		clone := *chat
		clone.Title = u.Name
		c.chats[u.ID] = &clone
	}
}

// PatchUser applies a partial update to an existing user. Only fields
// present in the patch overwrite the cached record; a patch for an
// unknown id is ignored and false is returned.
func (c *Cache) PatchUser(id int64, patch UserPatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.users[id]
	if !ok {
		return false
	}
	updated := *existing
	if patch.Phone != nil {
		updated.Phone = *patch.Phone
	}
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.FirstName != nil {
		updated.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		updated.LastName = *patch.LastName
	}
	if patch.PhotoID != nil {
		updated.PhotoID = *patch.PhotoID
	}
	if patch.BaseURL != nil {
		updated.BaseURL = *patch.BaseURL
	}
	c.users[id] = &updated
	return true
}

// SetLastMessage updates the last-message reference of a cached chat.
func (c *Cache) SetLastMessage(chatID int64, msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chat, ok := c.chats[chatID]
	if !ok {
		return
	}
	clone := *chat
	clone.LastMessage = msg
	c.chats[chatID] = &clone
}

// Chat returns a copy of the cached chat with the given id.
func (c *Cache) Chat(id int64) (*Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	chat, ok := c.chats[id]
	if !ok {
		return nil, false
	}
	clone := *chat
	return &clone, true
}

// User returns a copy of the cached user with the given id.
func (c *Cache) User(id int64) (*User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.users[id]
	if !ok {
		return nil, false
	}
	clone := *u
	return &clone, true
}

// Chats returns a snapshot of all cached chats.
func (c *Cache) Chats() []*Chat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Chat, 0, len(c.chats))
	for _, chat := range c.chats {
		clone := *chat
		out = append(out, &clone)
	}
	return out
}

// Users returns a snapshot of all cached users.
func (c *Cache) Users() []*User {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*User, 0, len(c.users))
	for _, u := range c.users {
		clone := *u
		out = append(out, &clone)
	}
	return out
}

// ParticipantIDs collects the distinct participant ids across all cached
// chats, capped at limit (0 means no cap).
func (c *Cache) ParticipantIDs(limit int) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[int64]struct{})
	var out []int64
	for _, chat := range c.chats {
		for pid := range chat.Participants {
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			out = append(out, pid)
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}
