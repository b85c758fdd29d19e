package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/deusflow/sportswire/internal/news"
)

// DefaultStoryLogCap is how many processed stories the log retains.
const DefaultStoryLogCap = 1000

// FileStoryLog keeps the most recent processed stories, newest first, in a
// JSON file.
type FileStoryLog struct {
	file  *JSONFile
	limit int

	mu      sync.RWMutex
	stories []news.Story
}

// NewFileStoryLog creates a story log backed by path. Call Load before use.
func NewFileStoryLog(path string, limit int) *FileStoryLog {
	if limit <= 0 {
		limit = DefaultStoryLogCap
	}
	return &FileStoryLog{
		file:  NewJSONFile(path),
		limit: limit,
	}
}

// Load reads previously persisted stories.
func (l *FileStoryLog) Load(ctx context.Context) error {
	var stories []news.Story
	if _, err := l.file.Load(&stories); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(stories) > l.limit {
		stories = stories[:l.limit]
	}
	l.stories = stories
	return nil
}

// Append records a story at the head of the log, replacing an earlier entry
// with the same id. The oldest entries fall off once the cap is reached.
func (l *FileStoryLog) Append(ctx context.Context, story news.Story) error {
	l.mu.Lock()
	out := make([]news.Story, 0, min(len(l.stories)+1, l.limit))
	out = append(out, story.Clone())
	for _, s := range l.stories {
		if len(out) >= l.limit {
			break
		}
		if s.ID == story.ID {
			continue
		}
		out = append(out, s)
	}
	l.stories = out
	err := l.file.Save(l.stories)
	l.mu.Unlock()

	return err
}

// Update applies fn to the stored story with the given id.
func (l *FileStoryLog) Update(ctx context.Context, id string, fn func(*news.Story)) error {
	l.mu.Lock()
	idx := -1
	for i := range l.stories {
		if l.stories[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	fn(&l.stories[idx])
	err := l.file.Save(l.stories)
	l.mu.Unlock()

	return err
}

// Get returns the story with the given id.
func (l *FileStoryLog) Get(ctx context.Context, id string) (news.Story, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, s := range l.stories {
		if s.ID == id {
			return s.Clone(), nil
		}
	}
	return news.Story{}, fmt.Errorf("story %s: %w", id, ErrNotFound)
}

// Recent returns up to n stories, newest first.
func (l *FileStoryLog) Recent(ctx context.Context, n int) ([]news.Story, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.stories) {
		n = len(l.stories)
	}
	out := make([]news.Story, 0, n)
	for _, s := range l.stories[:n] {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (l *FileStoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.stories)
}
