package store

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndLoadConversation(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "/proj/main.trace_sch", "sess-1", "Power supply")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`), conv.CreatedAt)

	loaded, err := s.LoadConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, loaded.ID)
	assert.Equal(t, "Power supply", loaded.Title)
	assert.False(t, loaded.IsSynced)
}

func TestLoadConversationMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadConversation("nope")
	assert.Error(t, err)
}

func TestListConversationsOrderAndFilter(t *testing.T) {
	s := newTestStore(t)

	older, err := s.CreateConversation("user-1", "", "s1", "older")
	require.NoError(t, err)
	newer, err := s.CreateConversation("user-1", "", "s2", "newer")
	require.NoError(t, err)
	_, err = s.CreateConversation("user-2", "", "s3", "other user")
	require.NoError(t, err)

	// Force distinct updated_at values.
	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, "2026-01-01T00:00:00Z", older.ID)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, "2026-02-01T00:00:00Z", newer.ID)
	require.NoError(t, err)

	convs, err := s.ListConversations("user-1", 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "newer", convs[0].Title)
	assert.Equal(t, "older", convs[1].Title)

	limited, err := s.ListConversations("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateTitleAndSummary(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.CreateConversation("", "", "s", "untitled")
	require.NoError(t, err)
	require.NoError(t, s.MarkConversationSynced(conv.ID))

	require.NoError(t, s.UpdateTitle(conv.ID, "LED driver"))
	require.NoError(t, s.UpdateSummary(conv.ID, "Designed a constant-current driver"))

	loaded, err := s.LoadConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "LED driver", loaded.Title)
	assert.Equal(t, "Designed a constant-current driver", loaded.Summary)
	// Any edit re-queues the conversation for sync.
	assert.False(t, loaded.IsSynced)

	assert.Error(t, s.UpdateTitle("missing", "x"))
}

func TestDeleteConversationCascades(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.CreateConversation("", "/proj/a.trace_sch", "s", "t")
	require.NoError(t, err)
	_, err = s.SaveMessage(conv.ID, "user", "hello", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveOpenTabs([]OpenTab{{ConversationID: conv.ID, TabOrder: 0, IsActive: true}}, "/proj/a.trace_sch"))

	require.NoError(t, s.DeleteConversation(conv.ID))

	msgs, err := s.LoadMessages(conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	tabs, err := s.LoadOpenTabs("/proj/a.trace_sch")
	require.NoError(t, err)
	assert.Empty(t, tabs)
}

func TestSaveAndLoadMessages(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.CreateConversation("", "", "s", "t")
	require.NoError(t, err)

	first, err := s.SaveMessage(conv.ID, "user", "add a resistor", `{"mode":"agent"}`)
	require.NoError(t, err)
	assert.Equal(t, "{\"mode\":\"agent\"}", first.Metadata)

	_, err = s.SaveMessage(conv.ID, "assistant", "done", "")
	require.NoError(t, err)

	msgs, err := s.LoadMessages(conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "{}", msgs[1].Metadata)

	last, err := s.GetLastMessage(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", last.Content)
}

func TestGetLastMessageEmpty(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.CreateConversation("", "", "s", "t")
	require.NoError(t, err)
	_, err = s.GetLastMessage(conv.ID)
	assert.Error(t, err)
}

func TestSyncBookkeeping(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.CreateConversation("user-1", "", "s", "t")
	require.NoError(t, err)
	msg, err := s.SaveMessage(conv.ID, "user", "hi", "")
	require.NoError(t, err)

	unsyncedConvs, err := s.GetUnsyncedConversations()
	require.NoError(t, err)
	require.Len(t, unsyncedConvs, 1)

	unsyncedMsgs, err := s.GetUnsyncedMessages()
	require.NoError(t, err)
	require.Len(t, unsyncedMsgs, 1)

	require.NoError(t, s.MarkConversationSynced(conv.ID))
	require.NoError(t, s.MarkMessageSynced(msg.ID))

	unsyncedConvs, err = s.GetUnsyncedConversations()
	require.NoError(t, err)
	assert.Empty(t, unsyncedConvs)
	unsyncedMsgs, err = s.GetUnsyncedMessages()
	require.NoError(t, err)
	assert.Empty(t, unsyncedMsgs)
}

func TestSetUserIDForLocalConversations(t *testing.T) {
	s := newTestStore(t)
	local, err := s.CreateConversation("", "", "s1", "anonymous")
	require.NoError(t, err)
	owned, err := s.CreateConversation("user-9", "", "s2", "owned")
	require.NoError(t, err)

	n, err := s.SetUserIDForLocalConversations("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claimed, err := s.LoadConversation(local.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claimed.UserID)

	untouched, err := s.LoadConversation(owned.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-9", untouched.UserID)
}

func TestUpsertRemoteConversation(t *testing.T) {
	s := newTestStore(t)

	// Missing locally: created as a synced shell.
	require.NoError(t, s.UpsertRemoteConversation(Conversation{
		ID: "remote-1", UserID: "user-1", Title: "from cloud", Summary: "sum",
	}))
	shell, err := s.LoadConversation("remote-1")
	require.NoError(t, err)
	assert.True(t, shell.IsSynced)
	assert.Equal(t, "from cloud", shell.Title)

	// Existing locally: remote title and summary win.
	local, err := s.CreateConversation("user-1", "", "s", "local title")
	require.NoError(t, err)
	require.NoError(t, s.UpsertRemoteConversation(Conversation{
		ID: local.ID, Title: "remote title", Summary: "remote summary",
	}))
	merged, err := s.LoadConversation(local.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote title", merged.Title)
	assert.Equal(t, "remote summary", merged.Summary)
}

func TestOpenTabsPerProjectIsolation(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateConversation("", "/a", "s1", "a")
	require.NoError(t, err)
	b, err := s.CreateConversation("", "/b", "s2", "b")
	require.NoError(t, err)

	require.NoError(t, s.SaveOpenTabs([]OpenTab{
		{ConversationID: a.ID, TabOrder: 1},
		{ConversationID: a.ID, TabOrder: 0, IsActive: true},
	}, "/a"))
	require.NoError(t, s.SaveOpenTabs([]OpenTab{{ConversationID: b.ID, TabOrder: 0}}, "/b"))

	tabsA, err := s.LoadOpenTabs("/a")
	require.NoError(t, err)
	require.Len(t, tabsA, 2)
	assert.Equal(t, 0, tabsA[0].TabOrder)
	assert.True(t, tabsA[0].IsActive)

	// Re-saving replaces, never appends.
	require.NoError(t, s.SaveOpenTabs([]OpenTab{{ConversationID: a.ID, TabOrder: 0}}, "/a"))
	tabsA, err = s.LoadOpenTabs("/a")
	require.NoError(t, err)
	assert.Len(t, tabsA, 1)

	require.NoError(t, s.ClearOpenTabs("/b"))
	tabsB, err := s.LoadOpenTabs("/b")
	require.NoError(t, err)
	assert.Empty(t, tabsB)

	tabsA, err = s.LoadOpenTabs("/a")
	require.NoError(t, err)
	assert.Len(t, tabsA, 1, "clearing one project must not touch another")
}

func TestDeleteOldPrunesByUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	old, err := s.CreateConversation("", "", "s1", "stale")
	require.NoError(t, err)
	fresh, err := s.CreateConversation("", "", "s2", "fresh")
	require.NoError(t, err)

	stale := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02T15:04:05Z")
	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, stale, old.ID)
	require.NoError(t, err)

	n, err := s.DeleteOld(DefaultRetentionDays)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.LoadConversation(old.ID)
	assert.Error(t, err)
	_, err = s.LoadConversation(fresh.ID)
	assert.NoError(t, err)
}

func TestSaveMessageBumpsConversation(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.CreateConversation("", "", "s", "t")
	require.NoError(t, err)
	require.NoError(t, s.MarkConversationSynced(conv.ID))

	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, "2026-01-01T00:00:00Z", conv.ID)
	require.NoError(t, err)

	_, err = s.SaveMessage(conv.ID, "user", "ping", "")
	require.NoError(t, err)

	loaded, err := s.LoadConversation(conv.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "2026-01-01T00:00:00Z", loaded.UpdatedAt)
	assert.False(t, loaded.IsSynced)
}

func TestForeignKeyEnforced(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveMessage("missing-conversation", "user", "hello", "")
	assert.Error(t, err)
}

func TestManyConversations(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 25; i++ {
		_, err := s.CreateConversation("user-1", "", fmt.Sprintf("s-%d", i), fmt.Sprintf("conv %d", i))
		require.NoError(t, err)
	}
	convs, err := s.ListConversations("user-1", 10)
	require.NoError(t, err)
	assert.Len(t, convs, 10)
}
