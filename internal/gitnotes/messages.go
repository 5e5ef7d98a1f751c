package gitnotes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/empirica-ai/empirica/internal/model"
)

// InboxFilter narrows an inbox query. Zero values match everything.
type InboxFilter struct {
	Channel string
	Status  string
	Type    model.MessageType
}

// SendMessage writes a message note under messages/<channel>/<id>. The
// timestamp is stamped if unset so TTL expiry is always measurable.
func (s *Store) SendMessage(ctx context.Context, m model.AgentMessage) error {
	if m.MessageID == "" || m.Channel == "" {
		return fmt.Errorf("gitnotes: message id and channel required: %w", model.ErrBadInput)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().UTC()
	}
	if m.Status == "" {
		m.Status = "unread"
	}
	payload, err := marshalNote(m)
	if err != nil {
		return err
	}
	return s.Put(ctx, payload, NamespaceMessages, m.Channel, m.MessageID)
}

// GetMessage reads one message, or nil when absent.
func (s *Store) GetMessage(ctx context.Context, channel, messageID string) (*model.AgentMessage, error) {
	raw, err := s.Get(ctx, NamespaceMessages, channel, messageID)
	if err != nil || raw == "" {
		return nil, err
	}
	var m model.AgentMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("gitnotes: decode message %s: %w", messageID, err)
	}
	return &m, nil
}

// Inbox returns live messages addressed to aiID (directly or broadcast),
// skipping expired ones.
func (s *Store) Inbox(ctx context.Context, aiID string, f InboxFilter) ([]model.AgentMessage, error) {
	refs, err := s.ListRefs(ctx, NamespaceMessages)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var out []model.AgentMessage
	for _, ref := range refs {
		rel := strings.TrimPrefix(ref, refPrefix+NamespaceMessages+"/")
		channel, _, found := strings.Cut(rel, "/")
		if !found {
			continue
		}
		if f.Channel != "" && channel != f.Channel {
			continue
		}
		raw, err := s.Get(ctx, strings.TrimPrefix(ref, refPrefix))
		if err != nil || raw == "" {
			if err != nil {
				s.logger.Warn("message note unreadable", "ref", ref, "error", err)
			}
			continue
		}
		var m model.AgentMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Warn("message note malformed", "ref", ref, "error", err)
			continue
		}
		if !m.AddressedTo(aiID) || m.Expired(now) {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// MarkMessageRead records that aiID has read the message. Idempotent: a
// repeat read leaves the note unchanged.
func (s *Store) MarkMessageRead(ctx context.Context, channel, messageID, aiID string) error {
	m, err := s.GetMessage(ctx, channel, messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("gitnotes: message %s/%s not found: %w", channel, messageID, model.ErrBadInput)
	}
	before := len(m.ReadBy)
	m.MarkRead(aiID)
	if len(m.ReadBy) == before {
		return nil
	}
	m.Status = "read"
	payload, err := marshalNote(m)
	if err != nil {
		return err
	}
	return s.Put(ctx, payload, NamespaceMessages, channel, messageID)
}
