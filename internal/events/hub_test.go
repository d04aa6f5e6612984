package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishReachesTopicAndWildcardSubscribers(t *testing.T) {
	hub := NewHub()

	var banned []CredentialEvent
	var all []string

	hub.Subscribe(TopicCredentialBanned, func(_ context.Context, e Event) {
		banned = append(banned, e.Payload.(CredentialEvent))
	})
	hub.Subscribe(TopicAll, func(_ context.Context, e Event) {
		all = append(all, e.Topic)
	})

	hub.Publish(context.Background(), TopicCredentialBanned, CredentialEvent{ID: 3, Project: "proj-3"}, nil)
	hub.Publish(context.Background(), TopicCredentialActivated, CredentialEvent{ID: 4}, nil)

	require.Len(t, banned, 1)
	require.Equal(t, int64(3), banned[0].ID)
	require.Equal(t, []string{TopicCredentialBanned, TopicCredentialActivated}, all)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	count := 0
	cancel := hub.Subscribe(TopicCredentialCooldown, func(context.Context, Event) { count++ })

	hub.Publish(context.Background(), TopicCredentialCooldown, CredentialEvent{ID: 1, Model: "gemini-2.5-pro"}, nil)
	cancel()
	hub.Publish(context.Background(), TopicCredentialCooldown, CredentialEvent{ID: 1, Model: "gemini-2.5-pro"}, nil)

	require.Equal(t, 1, count)
}
