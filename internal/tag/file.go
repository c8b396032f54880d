package tag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ErrNoTag is reported by FileHardware when the backing file does not exist.
var ErrNoTag = errors.New("no tag in range")

// FileHardware emulates a single tag with a JSON file. A missing file means
// no tag is in range for reads; writes create it.
type FileHardware struct {
	Path string

	mu     sync.Mutex
	active bool
}

func (f *FileHardware) RequestTechnology(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return errors.New("technology request already active")
	}
	f.active = true
	return nil
}

func (f *FileHardware) CancelTechnologyRequest() error {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
	return nil
}

func (f *FileHardware) GetTag(ctx context.Context) (Tag, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Tag{}, ErrNoTag
	}
	if err != nil {
		return Tag{}, err
	}
	var t Tag
	if err := json.Unmarshal(data, &t); err != nil {
		return Tag{}, fmt.Errorf("parsing tag file: %w", err)
	}
	return t, nil
}

func (f *FileHardware) WriteMessage(ctx context.Context, records []Record) error {
	t, err := f.GetTag(ctx)
	if err != nil && !errors.Is(err, ErrNoTag) {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Records = records
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o600)
}

// Ensure creates an empty tag file so that writes have a tag to target.
func (f *FileHardware) Ensure() error {
	if _, err := os.Stat(f.Path); err == nil {
		return nil
	}
	return f.WriteMessage(context.Background(), nil)
}
