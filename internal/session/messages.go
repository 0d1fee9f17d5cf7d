package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/concertlabs/concert/internal/event"
	"github.com/concertlabs/concert/internal/model"
)

// previewRunes bounds the message preview carried on MESSAGE_SENT.
const previewRunes = 80

// SendMessage routes an in-game diplomacy message. An empty recipient is a
// public broadcast. The full body stays in the session message log; events
// and webhooks carry only a preview.
func (s *Session) SendMessage(sender, recipient model.Power, body string) (*model.Message, error) {
	s.mu.Lock()
	if s.status != model.StatusActive {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: messages require ACTIVE, got %s", ErrInvalidState, s.status)
	}
	s.mu.Unlock()

	msg := &model.Message{
		ID:        uuid.NewString(),
		GameID:    s.id,
		Sender:    sender,
		Recipient: recipient,
		ChannelID: channelID(sender, recipient),
		Body:      body,
		CreatedAt: time.Now(),
	}

	s.histMu.Lock()
	s.messages = append(s.messages, *msg)
	s.histMu.Unlock()

	s.publish(event.TypeMessageSent, event.MessageSent{
		Sender:    sender,
		Recipient: recipient,
		ChannelID: msg.ChannelID,
		Preview:   preview(body),
	})
	return msg, nil
}

// Messages returns a copy of the message log, optionally filtered to one
// channel.
func (s *Session) Messages(channelID string) []model.Message {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if channelID == "" || m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

// channelID names the conversation: "public" for broadcasts, a sorted power
// pair otherwise, so both directions share a channel.
func channelID(sender, recipient model.Power) string {
	if recipient == "" {
		return "public"
	}
	pair := []string{string(sender), string(recipient)}
	sort.Strings(pair)
	return strings.Join(pair, "-")
}

// preview truncates the body to the event-visible length.
func preview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewRunes {
		return body
	}
	return string(runes[:previewRunes])
}
