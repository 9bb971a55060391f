package domain

import "time"

// NoteDocument is the single shared note of a room. Content is opaque rich text
// replaced wholesale on every edit.
type NoteDocument struct {
	RoomID     RoomID    `json:"room_id"`
	Content    string    `json:"content"`
	Version    int64     `json:"version"`
	LastWriter Identity  `json:"last_writer,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ChatMessage struct {
	ID          string    `json:"id"`
	Identity    Identity  `json:"identity"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}
