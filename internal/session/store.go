// Package session holds the most recent successful prediction for redisplay.
package session

import (
	"sync/atomic"

	"github.com/kjstillabower/weather2go/internal/models"
)

// Store keeps one PredictionResult. Save swaps the whole value, so readers
// never see a partially written result. Safe for concurrent use.
type Store struct {
	latest atomic.Pointer[models.PredictionResult]
}

func NewStore() *Store {
	return &Store{}
}

// Save replaces the latest result. Callers only save fully successful predictions.
func (s *Store) Save(r models.PredictionResult) {
	s.latest.Store(&r)
}

// Latest returns a copy of the latest result, or false before the first Save.
func (s *Store) Latest() (models.PredictionResult, bool) {
	p := s.latest.Load()
	if p == nil {
		return models.PredictionResult{}, false
	}
	return *p, true
}
