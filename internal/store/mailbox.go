package store

import (
	"context"

	"github.com/crewsched/crewsched/pkg/models"
)

// SendMessage appends a mailbox message with the next strictly increasing seq.
func (s *Store) SendMessage(ctx context.Context, sender, receiver, content string, taskID *string) (models.MailMessage, error) {
	var msg models.MailMessage
	err := s.update(ctx, func(doc *document) (bool, error) {
		doc.Meta.Sequence++
		msg = models.MailMessage{
			Seq:       doc.Meta.Sequence,
			Sender:    sender,
			Receiver:  receiver,
			Content:   content,
			TaskID:    taskID,
			CreatedAt: s.now().UTC(),
		}
		doc.Messages = append(doc.Messages, msg)
		return true, nil
	})
	if err != nil {
		return models.MailMessage{}, err
	}
	return msg, nil
}

// GetInbox returns the most recent messages addressed to receiver, in seq
// order, capped at limit (0 means no cap). Lock-free read.
func (s *Store) GetInbox(receiver string, limit int) ([]models.MailMessage, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []models.MailMessage
	for _, m := range doc.Messages {
		if m.Receiver == receiver {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// RecentMessages returns the tail of the whole mailbox regardless of receiver,
// used for provider snapshots. Lock-free read.
func (s *Store) RecentMessages(limit int) ([]models.MailMessage, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	msgs := doc.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.MailMessage(nil), msgs...), nil
}
