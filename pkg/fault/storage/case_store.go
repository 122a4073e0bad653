package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/hecongqing/shukongdashi/pkg/fault"
)

// JSONCaseStore persists the case corpus as a JSON file. It supports
// append and in-place feedback weight updates; cases are never deleted
// during normal operation.
type JSONCaseStore struct {
	filePath string
	mutex    sync.Mutex
}

// NewJSONCaseStore creates a case store at the given path.
func NewJSONCaseStore(filePath string) *JSONCaseStore {
	return &JSONCaseStore{filePath: filePath}
}

// Load implements fault.CaseStore. A missing file is an empty corpus,
// not an error.
func (s *JSONCaseStore) Load(ctx context.Context) ([]fault.FaultCase, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.read()
}

// Append implements fault.CaseStore.
func (s *JSONCaseStore) Append(ctx context.Context, c fault.FaultCase) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cases, err := s.read()
	if err != nil {
		return err
	}
	cases = append(cases, c)
	return s.write(cases)
}

// UpdateWeight implements fault.CaseStore.
func (s *JSONCaseStore) UpdateWeight(ctx context.Context, caseID string, weight float64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cases, err := s.read()
	if err != nil {
		return err
	}
	for i := range cases {
		if cases[i].ID == caseID {
			cases[i].FeedbackWeight = weight
			return s.write(cases)
		}
	}
	return errors.Errorf("case not found: %s", caseID)
}

func (s *JSONCaseStore) read() ([]fault.FaultCase, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []fault.FaultCase{}, nil
		}
		return nil, errors.Wrap(err, "reading case store")
	}

	var cases []fault.FaultCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, errors.Wrap(err, "decoding case store")
	}
	return cases, nil
}

func (s *JSONCaseStore) write(cases []fault.FaultCase) error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return errors.Wrap(err, "creating case store directory")
	}
	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding case store")
	}
	return errors.Wrap(os.WriteFile(s.filePath, data, 0644), "writing case store")
}
