package contentstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	ActionMarkRead       = "markRead"
	ActionToggleFavorite = "toggleFavorite"
	ActionToggleArchive  = "toggleArchive"
	ActionSetProgress    = "setProgress"
)

var contentTypes = map[string]bool{
	"song":  true,
	"poem":  true,
	"story": true,
}

// ContentRecord is a stored content row. CreatedAt is RFC 3339.
type ContentRecord struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ProgressRecord tracks one device's progress on one content row.
type ProgressRecord struct {
	DeviceID  string `json:"device_id"`
	ContentID int64  `json:"content_id"`
	ReadCount int    `json:"read_count"`
	Favorite  bool   `json:"favorite"`
	Archived  bool   `json:"archived"`
}

// ContentWithProgress is a content row joined with a device's progress,
// zeroed where the device has none.
type ContentWithProgress struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	ReadCount int    `json:"read_count"`
	Favorite  bool   `json:"favorite"`
	Archived  bool   `json:"archived"`
}

// SeedItem is one element of a batch-seed request.
type SeedItem struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	ReadCount int    `json:"readCount"`
	Favorite  bool   `json:"favorite"`
	Archived  bool   `json:"archived"`
}

type SeedResult struct {
	Success         bool `json:"success"`
	InsertedContent int  `json:"insertedContent"`
	UpdatedProgress int  `json:"updatedProgress"`
}

type ClearResult struct {
	Success         bool `json:"success"`
	DeletedProgress int  `json:"deletedProgress"`
	DeletedContent  int  `json:"deletedContent"`
}

// UpdateContentRequest carries a partial content edit; nil fields are left
// untouched.
type UpdateContentRequest struct {
	ID      int64
	Title   *string
	Content *string
}

// ProgressValue carries explicit values for a setProgress action.
type ProgressValue struct {
	ReadCount int  `json:"readCount"`
	Favorite  bool `json:"favorite"`
	Archived  bool `json:"archived"`
}

type StoreOptions struct {
	StateBackend StateBackend
	Logger       Logger
	Now          func() time.Time
}

type Logger interface {
	Printf(format string, args ...any)
}

// Store is the canonical content + per-device progress store behind the
// HTTP API. All mutations run under one mutex and persist through the
// configured backend before returning.
type Store struct {
	mu       sync.Mutex
	content  map[int64]ContentRecord
	progress map[string]ProgressRecord
	nextID   int64
	backend  StateBackend
	logger   Logger
	now      func() time.Time
}

func NewStore(opts StoreOptions) (*Store, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		content:  map[int64]ContentRecord{},
		progress: map[string]ProgressRecord{},
		nextID:   1,
		backend:  opts.StateBackend,
		logger:   opts.Logger,
		now:      now,
	}
	if s.backend != nil {
		state, err := s.backend.Load()
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if state != nil {
			s.restore(state)
		}
	}
	return s, nil
}

// List returns all content joined with the device's progress, ordered by
// id. An empty device identity yields zeroed progress fields.
func (s *Store) List(deviceID string) []ContentWithProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.content))
	for id := range s.content {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]ContentWithProgress, 0, len(ids))
	for _, id := range ids {
		rec := s.content[id]
		row := ContentWithProgress{
			ID:        rec.ID,
			Title:     rec.Title,
			Type:      rec.Type,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		}
		if deviceID != "" {
			if p, ok := s.progress[progressKey(deviceID, id)]; ok {
				row.ReadCount = p.ReadCount
				row.Favorite = p.Favorite
				row.Archived = p.Archived
			}
		}
		out = append(out, row)
	}
	return out
}

func (s *Store) Create(title, contentType, content string) (ContentRecord, error) {
	title = strings.TrimSpace(title)
	if title == "" || strings.TrimSpace(content) == "" {
		return ContentRecord{}, fmt.Errorf("%w: title and content are required", ErrInvalidInput)
	}
	if !contentTypes[contentType] {
		return ContentRecord{}, fmt.Errorf("%w: type must be song, poem or story", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := ContentRecord{
		ID:        s.nextID,
		Title:     title,
		Type:      contentType,
		Content:   content,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	s.nextID++
	s.content[rec.ID] = rec
	s.persistLocked()
	return rec, nil
}

func (s *Store) UpdateContent(req UpdateContentRequest) (ContentRecord, error) {
	if req.ID <= 0 {
		return ContentRecord{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.content[req.ID]
	if !ok {
		return ContentRecord{}, ErrNotFound
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		rec.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil && *req.Content != "" {
		rec.Content = *req.Content
	}
	s.content[req.ID] = rec
	s.persistLocked()
	return rec, nil
}

// ApplyProgress upserts the device's progress row for a content item.
// markRead increments, the toggle actions NOT the stored flag, setProgress
// overwrites all three fields.
func (s *Store) ApplyProgress(deviceID string, contentID int64, action string, value *ProgressValue) (ProgressRecord, error) {
	if strings.TrimSpace(deviceID) == "" || contentID <= 0 {
		return ProgressRecord{}, fmt.Errorf("%w: deviceId and contentId are required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.content[contentID]; !ok {
		return ProgressRecord{}, ErrNotFound
	}
	key := progressKey(deviceID, contentID)
	p, ok := s.progress[key]
	if !ok {
		p = ProgressRecord{DeviceID: deviceID, ContentID: contentID}
	}
	switch action {
	case ActionMarkRead:
		p.ReadCount++
	case ActionToggleFavorite:
		p.Favorite = !p.Favorite
	case ActionToggleArchive:
		p.Archived = !p.Archived
	case ActionSetProgress:
		if value == nil {
			value = &ProgressValue{}
		}
		p.ReadCount = value.ReadCount
		p.Favorite = value.Favorite
		p.Archived = value.Archived
	default:
		return ProgressRecord{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	s.progress[key] = p
	s.persistLocked()
	return p, nil
}

// ListProgress returns the device's progress rows ordered by content id.
func (s *Store) ListProgress(deviceID string) []ProgressRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProgressRecord, 0)
	for _, p := range s.progress {
		if deviceID == "" || p.DeviceID == deviceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContentID != out[j].ContentID {
			return out[i].ContentID < out[j].ContentID
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// Seed batch-inserts content, reusing the existing row when a (title, type)
// pair is already present. Items missing any required field are skipped.
// Progress carried by the seed merges into the device's rows without losing
// ground: read counts take the greater value, flags OR together.
func (s *Store) Seed(items []SeedItem, deviceID string) SeedResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := SeedResult{Success: true}
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" || item.Content == "" || !contentTypes[item.Type] {
			continue
		}
		contentID, exists := s.findByTitleTypeLocked(title, item.Type)
		if !exists {
			rec := ContentRecord{
				ID:        s.nextID,
				Title:     title,
				Type:      item.Type,
				Content:   item.Content,
				CreatedAt: s.now().UTC().Format(time.RFC3339),
			}
			s.nextID++
			s.content[rec.ID] = rec
			contentID = rec.ID
			result.InsertedContent++
		}
		if deviceID == "" {
			continue
		}
		if item.ReadCount > 0 || item.Favorite || item.Archived {
			key := progressKey(deviceID, contentID)
			p, ok := s.progress[key]
			if !ok {
				p = ProgressRecord{DeviceID: deviceID, ContentID: contentID}
			}
			if item.ReadCount > p.ReadCount {
				p.ReadCount = item.ReadCount
			}
			p.Favorite = p.Favorite || item.Favorite
			p.Archived = p.Archived || item.Archived
			s.progress[key] = p
			result.UpdatedProgress++
		}
	}
	s.persistLocked()
	return result
}

// Clear removes the device's progress and every content row.
func (s *Store) Clear(deviceID string) (ClearResult, error) {
	if strings.TrimSpace(deviceID) == "" {
		return ClearResult{}, fmt.Errorf("%w: deviceId is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := ClearResult{Success: true}
	for key, p := range s.progress {
		if p.DeviceID == deviceID {
			delete(s.progress, key)
			result.DeletedProgress++
		}
	}
	result.DeletedContent = len(s.content)
	s.content = map[int64]ContentRecord{}
	s.persistLocked()
	return result, nil
}

func (s *Store) findByTitleTypeLocked(title, contentType string) (int64, bool) {
	for id, rec := range s.content {
		if rec.Type == contentType && strings.EqualFold(rec.Title, title) {
			return id, true
		}
	}
	return 0, false
}

func (s *Store) persistLocked() {
	if s.backend == nil {
		return
	}
	state := s.snapshotLocked()
	if err := s.backend.Save(state); err != nil {
		s.logf("persist state failed: %v", err)
	}
}

func (s *Store) snapshotLocked() *persistedState {
	state := &persistedState{NextID: s.nextID}
	for _, rec := range s.content {
		state.Content = append(state.Content, rec)
	}
	sort.Slice(state.Content, func(i, j int) bool { return state.Content[i].ID < state.Content[j].ID })
	for _, p := range s.progress {
		state.Progress = append(state.Progress, p)
	}
	sort.Slice(state.Progress, func(i, j int) bool {
		if state.Progress[i].ContentID != state.Progress[j].ContentID {
			return state.Progress[i].ContentID < state.Progress[j].ContentID
		}
		return state.Progress[i].DeviceID < state.Progress[j].DeviceID
	})
	return state
}

func (s *Store) restore(state *persistedState) {
	for _, rec := range state.Content {
		s.content[rec.ID] = rec
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
	}
	for _, p := range state.Progress {
		s.progress[progressKey(p.DeviceID, p.ContentID)] = p
	}
	if state.NextID > s.nextID {
		s.nextID = state.NextID
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func progressKey(deviceID string, contentID int64) string {
	return fmt.Sprintf("%s|%d", deviceID, contentID)
}
