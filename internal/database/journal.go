package database

import (
	"sync"

	"facepulse/internal/monitoring"
	"facepulse/internal/pipeline"
)

// Journal persists pipeline results. It registers each session the first
// time one of its results arrives.
type Journal struct {
	db     *Database
	engine string

	mu    sync.Mutex
	known map[string]bool
}

// NewJournal creates a journal writing to db. engine is stored with every
// new session.
func NewJournal(db *Database, engine string) *Journal {
	return &Journal{
		db:     db,
		engine: engine,
		known:  make(map[string]bool),
	}
}

// OnResult implements pipeline.ResultHandler. Write errors are logged.
func (j *Journal) OnResult(result *pipeline.Result) {
	if result == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.known[result.SessionID] {
		err := j.db.SaveSession(&SessionRecord{
			ID:        result.SessionID,
			Source:    result.Source,
			Engine:    j.engine,
			Width:     result.Width,
			Height:    result.Height,
			StartedAt: result.Timestamp,
		})
		if err != nil {
			monitoring.Logf("[Journal] %v", err)
			return
		}
		j.known[result.SessionID] = true
	}

	dominant, _ := result.Expressions.Dominant()
	err := j.db.SaveCycle(&CycleRecord{
		SessionID:   result.SessionID,
		Seq:         result.Seq,
		Timestamp:   result.Timestamp,
		Region:      RegionRecord(result.Region),
		Expressions: result.Expressions[:],
		Dominant:    dominant,
		Recovered:   result.Recovered,
		First:       result.First,
	})
	if err != nil {
		monitoring.Logf("[Journal] %v", err)
	}
}

var _ pipeline.ResultHandler = (*Journal)(nil)
