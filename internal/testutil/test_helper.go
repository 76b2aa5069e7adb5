package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/noteduco342/om-channels/internal/models"
)

const TestJWTSecret = "test-secret-key-for-testing-only"

// TestHelper provides utility functions for tests
type TestHelper struct {
	t *testing.T
}

func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTestChannel creates a channel in store with the given members
func (h *TestHelper) CreateTestChannel(store *Store, name string, members ...string) *models.Channel {
	h.t.Helper()
	if name == "" {
		name = "general"
	}
	channel := &models.Channel{DisplayName: name}
	if err := store.Channels().Create(context.Background(), channel, members); err != nil {
		h.t.Fatalf("create channel: %v", err)
	}
	for _, uid := range members {
		if err := store.Markers().EnsureForMember(context.Background(), channel.ID, uid); err != nil {
			h.t.Fatalf("ensure marker: %v", err)
		}
	}
	return channel
}

// AppendTestMessages appends count messages from sender to channelID
func (h *TestHelper) AppendTestMessages(store *Store, channelID uint, sender string, count int) []models.Message {
	h.t.Helper()
	out := make([]models.Message, 0, count)
	for i := 0; i < count; i++ {
		msg := &models.Message{ChannelID: channelID, SenderID: sender, Content: "Test message"}
		if err := store.Messages().Append(context.Background(), msg); err != nil {
			h.t.Fatalf("append message: %v", err)
		}
		out = append(out, *msg)
	}
	return out
}

// SetupTestEnv sets up required environment variables for testing
func (h *TestHelper) SetupTestEnv() {
	os.Setenv("JWT_SECRET", TestJWTSecret)
	os.Setenv("DATABASE_URL", "postgres://test@localhost/test")
}

// TeardownTestEnv cleans up environment variables after testing
func (h *TestHelper) TeardownTestEnv() {
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("DATABASE_URL")
}

// AssertError checks if an error occurred when it should (or shouldn't)
func (h *TestHelper) AssertError(err error, shouldErr bool, testName string) {
	h.t.Helper()
	if (err != nil) != shouldErr {
		if shouldErr {
			h.t.Errorf("%s: expected error but got nil", testName)
		} else {
			h.t.Errorf("%s: unexpected error: %v", testName, err)
		}
	}
}
