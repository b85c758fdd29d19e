package retry

import (
	"context"
	"path/filepath"

	"github.com/deusflow/sportswire/internal/storage"
)

// FileJournal keeps the retry queue and error log as two JSON files.
type FileJournal struct {
	tasks  *storage.JSONFile
	errors *storage.JSONFile
}

// NewFileJournal stores retry-queue.json and error-log.json under dir.
func NewFileJournal(dir string) *FileJournal {
	return &FileJournal{
		tasks:  storage.NewJSONFile(filepath.Join(dir, "retry-queue.json")),
		errors: storage.NewJSONFile(filepath.Join(dir, "error-log.json")),
	}
}

func (j *FileJournal) LoadTasks(context.Context) ([]Task, error) {
	var tasks []Task
	_, err := j.tasks.Load(&tasks)
	return tasks, err
}

func (j *FileJournal) SaveTasks(_ context.Context, tasks []Task) error {
	return j.tasks.Save(tasks)
}

func (j *FileJournal) LoadErrors(context.Context) ([]ErrorRecord, error) {
	var records []ErrorRecord
	_, err := j.errors.Load(&records)
	return records, err
}

func (j *FileJournal) SaveErrors(_ context.Context, records []ErrorRecord) error {
	return j.errors.Save(records)
}
