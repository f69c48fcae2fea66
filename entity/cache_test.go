package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertUserReplacesAllFields(t *testing.T) {
	c := NewCache()
	c.UpsertUser(&User{ID: 1, Name: "Alice", Phone: 111, PhotoID: 9})

	// Second upsert with the same id replaces the record wholesale.
	c.UpsertUser(&User{ID: 1, Name: "Alicia"})

	u, ok := c.User(1)
	require.True(t, ok)
	assert.Equal(t, "Alicia", u.Name)
	assert.Zero(t, u.Phone, "full upsert must not preserve old fields")
	assert.Zero(t, u.PhotoID)
}

func TestPatchUserChangesOnlyPresentFields(t *testing.T) {
	c := NewCache()
	c.UpsertUser(&User{ID: 1, Name: "Alice", Phone: 111, PhotoID: 9})

	newName := "Alicia"
	require.True(t, c.PatchUser(1, UserPatch{Name: &newName}))

	u, ok := c.User(1)
	require.True(t, ok)
	assert.Equal(t, "Alicia", u.Name)
	assert.Equal(t, int64(111), u.Phone, "patch must leave absent fields untouched")
	assert.Equal(t, int64(9), u.PhotoID)
}

func TestPatchUnknownUser(t *testing.T) {
	c := NewCache()
	name := "ghost"
	assert.False(t, c.PatchUser(404, UserPatch{Name: &name}))
}

func TestChatReturnsCopy(t *testing.T) {
	c := NewCache()
	c.UpsertChat(&Chat{ID: 5, Type: ChatTypeChat, Title: "team"})

	chat, ok := c.Chat(5)
	require.True(t, ok)
	chat.Title = "mutated"

	again, ok := c.Chat(5)
	require.True(t, ok)
	assert.Equal(t, "team", again.Title, "readers must not share cache state")
}

func TestDialogTitleBackfillFromKnownUser(t *testing.T) {
	c := NewCache()
	c.UpsertUser(&User{ID: 7, Name: "Bob"})
	c.UpsertChat(&Chat{ID: 7, Type: ChatTypeDialog, Participants: map[int64]int64{7: 1}})

	chat, ok := c.Chat(7)
	require.True(t, ok)
	assert.Equal(t, "Bob", chat.Title)
}

func TestDialogTitleBackfillFromLaterContact(t *testing.T) {
	c := NewCache()
	c.UpsertChat(&Chat{ID: 7, Type: ChatTypeDialog, Participants: map[int64]int64{7: 1}})
	c.UpsertUser(&User{ID: 7, Name: "Bob"})

	chat, ok := c.Chat(7)
	require.True(t, ok)
	assert.Equal(t, "Bob", chat.Title)
}

func TestSetLastMessage(t *testing.T) {
	c := NewCache()
	c.UpsertChat(&Chat{ID: 3, Type: ChatTypeChat, Title: "x"})

	c.SetLastMessage(3, &Message{ID: "m1", Text: "hi", ChatID: 3})

	chat, ok := c.Chat(3)
	require.True(t, ok)
	require.NotNil(t, chat.LastMessage)
	assert.Equal(t, "m1", chat.LastMessage.ID)

	// Unknown chat id is a no-op.
	c.SetLastMessage(404, &Message{ID: "m2"})
}

func TestSnapshots(t *testing.T) {
	c := NewCache()
	c.UpsertChat(&Chat{ID: 1, Type: ChatTypeChat, Title: "a"})
	c.UpsertChat(&Chat{ID: 2, Type: ChatTypeChat, Title: "b"})
	c.UpsertUser(&User{ID: 10, Name: "u"})

	assert.Len(t, c.Chats(), 2)
	assert.Len(t, c.Users(), 1)
}

func TestSelf(t *testing.T) {
	c := NewCache()
	assert.Nil(t, c.Self())

	c.SetSelf(&User{ID: 42, Name: "me"})
	self := c.Self()
	require.NotNil(t, self)
	assert.Equal(t, int64(42), self.ID)

	self.Name = "mutated"
	assert.Equal(t, "me", c.Self().Name)
}

func TestParticipantIDs(t *testing.T) {
	c := NewCache()
	c.UpsertChat(&Chat{ID: 1, Type: ChatTypeChat, Participants: map[int64]int64{10: 1, 11: 1}})
	c.UpsertChat(&Chat{ID: 2, Type: ChatTypeChat, Participants: map[int64]int64{11: 1, 12: 1}})

	ids := c.ParticipantIDs(0)
	assert.ElementsMatch(t, []int64{10, 11, 12}, ids)

	capped := c.ParticipantIDs(2)
	assert.Len(t, capped, 2)
}
