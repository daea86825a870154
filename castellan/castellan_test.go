package castellan

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbPath := filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	db, err := CreateDB(
		context.Background(),
		"sqlite",
		dbPath,
	)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	return db
}

func setupTestWriteDB(t testing.TB) DBI {
	t.Helper()
	return NewDatabase(setupTestDB(t), testLogger(t), false)
}

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.Default().With("test_name", t.Name())
}

// mockSessionHandler is a DiscordSessionHandler that records outbound
// calls instead of hitting Discord.
type mockSessionHandler struct {
	mu            sync.Mutex
	sentMessages  []*discordgo.MessageSend
	sentContents  []string
	editedIDs     []string
	deletedIDs    []string
	rolesAdded    []string
	dmChannels    []string
	nextMessageID int
}

func newMockSessionHandler() *mockSessionHandler {
	return &mockSessionHandler{}
}

func (m *mockSessionHandler) nextID() string {
	m.nextMessageID++
	return fmt.Sprintf("msg-%d", m.nextMessageID)
}

func (m *mockSessionHandler) Open() error  { return nil }
func (m *mockSessionHandler) Close() error { return nil }

func (m *mockSessionHandler) AddHandler(any) func() { return func() {} }

func (m *mockSessionHandler) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func (m *mockSessionHandler) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentContents = append(m.sentContents, message)
	return &discordgo.Message{ID: m.nextID(), ChannelID: channelID}, nil
}

func (m *mockSessionHandler) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(m.sentMessages, data)
	return &discordgo.Message{ID: m.nextID(), ChannelID: channelID}, nil
}

func (m *mockSessionHandler) ChannelMessageEditComplex(
	edit *discordgo.MessageEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editedIDs = append(m.editedIDs, edit.ID)
	return &discordgo.Message{ID: edit.ID, ChannelID: edit.Channel}, nil
}

func (m *mockSessionHandler) ChannelMessageDelete(
	_ string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedIDs = append(m.deletedIDs, messageID)
	return nil
}

func (m *mockSessionHandler) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dmChannels = append(m.dmChannels, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (m *mockSessionHandler) GuildMemberRoleAdd(
	_ string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolesAdded = append(m.rolesAdded, userID+"/"+roleID)
	return nil
}

func (m *mockSessionHandler) InteractionRespond(
	*discordgo.Interaction,
	*discordgo.InteractionResponse,
	...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockSessionHandler) InteractionResponse(
	*discordgo.Interaction,
	...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (m *mockSessionHandler) InteractionResponseEdit(
	*discordgo.Interaction,
	*discordgo.WebhookEdit,
	...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (m *mockSessionHandler) InteractionResponseDelete(
	*discordgo.Interaction,
	...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockSessionHandler) UpdateCustomStatus(string) error { return nil }

func (m *mockSessionHandler) SetHTTPClient(*http.Client) {}

func (m *mockSessionHandler) SetLogLevel(slog.Level) error { return nil }
