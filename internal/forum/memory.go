package forum

import (
	"context"
	"fmt"
	"sync"
)

// MessageLimit is the destination platform's maximum message length in
// characters. Longer texts are split into sequential chunks.
const MessageLimit = 2000

// Memory is an in-memory forum backend. It is the default client for
// local runs and the backend for every test in this repo; a production
// deployment substitutes a client for the real chat platform.
type Memory struct {
	mu       sync.Mutex
	nextID   int
	threads  map[string]*Thread
	tags     map[string][]Tag            // forumID -> tags
	messages map[string][]string         // threadID -> messages
	channels map[string][]string         // channelID -> messages
	denied   map[string]bool             // operation names that return ErrForbidden
}

// NewMemory creates an empty in-memory forum.
func NewMemory() *Memory {
	return &Memory{
		threads:  make(map[string]*Thread),
		tags:     make(map[string][]Tag),
		messages: make(map[string][]string),
		channels: make(map[string][]string),
		denied:   make(map[string]bool),
	}
}

// Deny makes the named operation ("create_thread", "delete_thread",
// "create_tag", "edit_thread") fail with ErrForbidden. Used by tests to
// exercise permission-failure paths.
func (m *Memory) Deny(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[op] = true
}

func (m *Memory) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	cp := *t
	cp.Tags = append([]Tag(nil), t.Tags...)
	return &cp, nil
}

func (m *Memory) ListActiveThreads(ctx context.Context, forumID string) ([]*Thread, error) {
	return m.listThreads(forumID, false, 0)
}

func (m *Memory) ListArchivedThreads(ctx context.Context, forumID string, limit int) ([]*Thread, error) {
	return m.listThreads(forumID, true, limit)
}

func (m *Memory) listThreads(forumID string, archived bool, limit int) ([]*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Thread
	for _, t := range m.threads {
		if t.ForumID != forumID || t.Archived != archived {
			continue
		}
		cp := *t
		cp.Tags = append([]Tag(nil), t.Tags...)
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CreateThread(ctx context.Context, forumID, name, content string, tags []Tag) (*Thread, error) {
	m.mu.Lock()
	if m.denied["create_thread"] {
		m.mu.Unlock()
		return nil, fmt.Errorf("create thread in %s: %w", forumID, ErrForbidden)
	}
	m.nextID++
	id := fmt.Sprintf("thread-%d", m.nextID)
	t := &Thread{
		ID:      id,
		ForumID: forumID,
		Name:    name,
		Tags:    append([]Tag(nil), tags...),
	}
	m.threads[id] = t
	m.mu.Unlock()

	if content != "" {
		if err := m.SendMessage(ctx, id, content); err != nil {
			return nil, err
		}
	}
	cp := *t
	cp.Tags = append([]Tag(nil), t.Tags...)
	return &cp, nil
}

func (m *Memory) EditThread(ctx context.Context, threadID string, edit ThreadEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied["edit_thread"] {
		return fmt.Errorf("edit thread %s: %w", threadID, ErrForbidden)
	}
	t, ok := m.threads[threadID]
	if !ok {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if edit.Name != nil {
		t.Name = *edit.Name
	}
	if edit.Tags != nil {
		t.Tags = append([]Tag(nil), edit.Tags...)
	}
	return nil
}

func (m *Memory) DeleteThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied["delete_thread"] {
		return fmt.Errorf("delete thread %s: %w", threadID, ErrForbidden)
	}
	if _, ok := m.threads[threadID]; !ok {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	delete(m.threads, threadID)
	delete(m.messages, threadID)
	return nil
}

func (m *Memory) ListAvailableTags(ctx context.Context, forumID string) ([]Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Tag(nil), m.tags[forumID]...), nil
}

func (m *Memory) CreateTag(ctx context.Context, forumID, name string) (Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied["create_tag"] {
		return Tag{}, fmt.Errorf("create tag %q in %s: %w", name, forumID, ErrForbidden)
	}
	m.nextID++
	tag := Tag{ID: fmt.Sprintf("tag-%d", m.nextID), Name: name}
	m.tags[forumID] = append(m.tags[forumID], tag)
	return tag, nil
}

// SendMessage appends a message to a thread, splitting texts longer than
// MessageLimit into sequential chunks.
func (m *Memory) SendMessage(ctx context.Context, threadID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	m.messages[threadID] = append(m.messages[threadID], chunk(text)...)
	return nil
}

func (m *Memory) SendChannelMessage(ctx context.Context, channelID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channelID] = append(m.channels[channelID], chunk(text)...)
	return nil
}

// Archive marks a thread archived. Test helper; the real platform
// archives threads after inactivity.
func (m *Memory) Archive(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[threadID]; ok {
		t.Archived = true
	}
}

// Messages returns a copy of the messages posted to a thread.
func (m *Memory) Messages(threadID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages[threadID]...)
}

// ChannelMessages returns a copy of the messages posted to a channel.
func (m *Memory) ChannelMessages(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.channels[channelID]...)
}

// ThreadCount reports how many live threads a forum holds.
func (m *Memory) ThreadCount(forumID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.threads {
		if t.ForumID == forumID {
			n++
		}
	}
	return n
}

// chunk splits on rune boundaries: the platform limit counts characters,
// and a byte-wise split could cut a multi-byte rune in half.
func chunk(text string) []string {
	if len(text) <= MessageLimit {
		return []string{text}
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > MessageLimit {
		chunks = append(chunks, string(runes[:MessageLimit]))
		runes = runes[MessageLimit:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
