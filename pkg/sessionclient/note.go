package sessionclient

import (
	"sync"

	"lessonlive/internal/core/domain"
)

// NoteReplica mirrors the room's shared note. While the user is typing,
// remote updates are dropped instead of overwriting the local draft; the
// draft wins when it is sent.
type NoteReplica struct {
	mu         sync.Mutex
	content    string
	version    int64
	lastWriter domain.Identity
	editing    bool
	dropped    int
}

func NewNoteReplica() *NoteReplica {
	return &NoteReplica{}
}

// Reset loads the snapshot delivered with joined.
func (n *NoteReplica) Reset(doc *domain.NoteDocument) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.editing = false
	if doc == nil {
		n.content, n.version, n.lastWriter = "", 0, ""
		return
	}
	n.content, n.version, n.lastWriter = doc.Content, doc.Version, doc.LastWriter
}

func (n *NoteReplica) BeginEdit() {
	n.mu.Lock()
	n.editing = true
	n.mu.Unlock()
}

// EndEdit stops suppressing remote updates. The caller sends the draft.
func (n *NoteReplica) EndEdit() {
	n.mu.Lock()
	n.editing = false
	n.mu.Unlock()
}

func (n *NoteReplica) Editing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.editing
}

// SetDraft records local content while editing.
func (n *NoteReplica) SetDraft(content string) {
	n.mu.Lock()
	n.content = content
	n.mu.Unlock()
}

// ApplyRemote applies a note-updated event. It reports false when the update
// was dropped because of a local edit or because it is not newer.
func (n *NoteReplica) ApplyRemote(update domain.NoteUpdatedPayload) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.editing {
		n.dropped++
		return false
	}
	if update.Version <= n.version {
		return false
	}
	n.content, n.version, n.lastWriter = update.Content, update.Version, update.LastWriter
	return true
}

func (n *NoteReplica) Content() (string, int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.content, n.version
}

func (n *NoteReplica) LastWriter() domain.Identity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastWriter
}

// Dropped counts remote updates suppressed during local edits.
func (n *NoteReplica) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}
