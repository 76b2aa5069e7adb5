package service

import (
	"testing"

	"github.com/noteduco342/om-channels/internal/broker"
	"github.com/noteduco342/om-channels/internal/testutil"
	"github.com/rs/zerolog"
)

type harness struct {
	helper   *testutil.TestHelper
	store    *testutil.Store
	broker   *broker.Broker
	channels *ChannelService
	messages *MessageService
	reads    *ReadStateService
	chat     *ChatService
}

func newHarness(t *testing.T, opts broker.Options) *harness {
	t.Helper()
	if opts.BufferSize == 0 {
		opts.BufferSize = 64
	}
	log := zerolog.Nop()
	store := testutil.NewStore()
	channelRepo := store.Channels()

	b := broker.New(channelRepo, log, opts)
	t.Cleanup(b.Shutdown)

	channels := NewChannelService(channelRepo, store.Markers(), b, log)
	messages := NewMessageService(store.Messages(), nil, 0)
	reads := NewReadStateService(store.Markers(), channelRepo, messages, 0)

	return &harness{
		helper:   testutil.NewTestHelper(t),
		store:    store,
		broker:   b,
		channels: channels,
		messages: messages,
		reads:    reads,
		chat:     NewChatService(channels, messages, reads, b, b, log),
	}
}
