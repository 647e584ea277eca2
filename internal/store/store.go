// Package store persists watering settings across restarts as a JSON
// file written atomically via tmp+rename.
package store

import (
	"encoding/json"
	"os"

	"github.com/sproutling/waterd/internal/model"
)

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*model.WateringSettings, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var settings model.WateringSettings
	if err := json.NewDecoder(file).Decode(&settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) Save(settings *model.WateringSettings) error {
	tmpPath := s.path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(settings); err != nil {
		file.Close()
		return err
	}
	file.Sync()
	file.Close()

	return os.Rename(tmpPath, s.path)
}
