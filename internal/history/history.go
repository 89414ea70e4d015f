package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// BuildRecord represents a single SageAttention build attempt
type BuildRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Arch      string    `json:"arch"`
	Jobs      int       `json:"jobs"`
	Success   bool      `json:"success"`
	Skipped   bool      `json:"skipped,omitempty"` // Toolchain too old, nothing was built
	Duration  string    `json:"duration"`
	LogPath   string    `json:"log_path,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Store handles persistent storage of build records
type Store struct {
	recordsFile string
}

// New creates a new store rooted at dir
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &Store{
		recordsFile: filepath.Join(dir, "builds.jsonl"),
	}, nil
}

// Path returns the JSON lines file backing the store
func (s *Store) Path() string {
	return s.recordsFile
}

// Append saves a build record
func (s *Store) Append(record BuildRecord) error {
	file, err := os.OpenFile(s.recordsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal build record: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write build record: %w", err)
	}

	return nil
}

// Last returns the last n build records, newest first
func (s *Store) Last(n int) ([]BuildRecord, error) {
	file, err := os.Open(s.recordsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return []BuildRecord{}, nil
		}
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var records []BuildRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record BuildRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue // Skip invalid lines
		}
		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	if n >= 0 && len(records) > n {
		records = records[:n]
	}

	return records, nil
}
