package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lessonlive/internal/core/domain"

	"github.com/google/uuid"
)

// editNote replaces the shared document wholesale. Last writer wins: there is
// no merge, and the version only counts accepted writes.
func (a *roomActor) editNote(ctx context.Context, connID domain.ConnectionID, content string) (*domain.NoteDocument, error) {
	st := a.state
	c := a.c
	p, ok := st.participants[connID]
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	if c.cfg.NoteMaxBytes > 0 && len(content) > c.cfg.NoteMaxBytes {
		return nil, domain.ErrContentTooLarge
	}

	doc := &domain.NoteDocument{
		RoomID:     a.id,
		Content:    content,
		Version:    st.note.Version + 1,
		LastWriter: p.Identity,
		UpdatedAt:  time.Now(),
	}
	if err := c.notes.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save shared note: %w", err)
	}
	st.note = doc

	a.broadcast(domain.EventNoteUpdated, domain.NoteUpdatedPayload{
		Content:    doc.Content,
		Version:    doc.Version,
		LastWriter: doc.LastWriter,
		UpdatedAt:  doc.UpdatedAt,
	})
	return noteCopy(doc), nil
}

type chatHistory struct {
	size  int
	items []domain.ChatMessage
}

func newChatHistory(size int) *chatHistory {
	return &chatHistory{size: size}
}

func (h *chatHistory) add(msg domain.ChatMessage) {
	if h.size <= 0 {
		return
	}
	h.items = append(h.items, msg)
	if len(h.items) > h.size {
		h.items = h.items[len(h.items)-h.size:]
	}
}

func (h *chatHistory) messages() []domain.ChatMessage {
	if len(h.items) == 0 {
		return nil
	}
	out := make([]domain.ChatMessage, len(h.items))
	copy(out, h.items)
	return out
}

func (a *roomActor) sendChat(connID domain.ConnectionID, text string) error {
	p, ok := a.state.participants[connID]
	if !ok {
		return domain.ErrNotInRoom
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max := a.c.cfg.ChatMaxLength; max > 0 && len([]rune(text)) > max {
		return domain.ErrContentTooLarge
	}

	msg := domain.ChatMessage{
		ID:          uuid.NewString(),
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
		Text:        text,
		SentAt:      time.Now(),
	}
	a.state.chat.add(msg)
	a.broadcast(domain.EventChatMessage, msg)
	return nil
}
