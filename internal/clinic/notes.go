package clinic

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"healthcb/backend/internal/config"
	"healthcb/backend/internal/logger"
)

const notesSaveTimeout = 15 * time.Second

// NotesSaver persists a record's notes. *Client implements it.
type NotesSaver interface {
	UpdateNotes(ctx context.Context, recordID, notes string) (*ConsultationRecord, error)
}

// NotesAutosaver debounces note edits: a save runs once no edit happened for
// the debounce delay, with the latest text. Failures are logged.
type NotesAutosaver struct {
	saver    NotesSaver
	recordID string
	delay    time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending *string
	closed  bool
	saving  sync.WaitGroup
}

// NewNotesAutosaver returns an autosaver; delay <= 0 means the default debounce.
func NewNotesAutosaver(saver NotesSaver, recordID string, delay time.Duration, log *zap.Logger) *NotesAutosaver {
	if delay <= 0 {
		delay = config.NotesAutosaveDebounce
	}
	return &NotesAutosaver{
		saver:    saver,
		recordID: recordID,
		delay:    delay,
		log:      logger.OrNop(log).With(zap.String("record_id", recordID)),
	}
}

// Update records an edit and restarts the debounce timer.
func (a *NotesAutosaver) Update(notes string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.pending = &notes
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, a.fire)
}

func (a *NotesAutosaver) fire() {
	notes, ok := a.take()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notesSaveTimeout)
	defer cancel()
	_ = a.save(ctx, notes)
}

func (a *NotesAutosaver) take() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.pending == nil {
		return "", false
	}
	notes := *a.pending
	a.pending = nil
	a.saving.Add(1)
	return notes, true
}

func (a *NotesAutosaver) save(ctx context.Context, notes string) error {
	defer a.saving.Done()
	if _, err := a.saver.UpdateNotes(ctx, a.recordID, notes); err != nil {
		a.log.Error("failed to save notes", zap.Error(err))
		return err
	}
	a.log.Debug("notes saved", zap.Int("length", len(notes)))
	return nil
}

// Flush saves a pending edit immediately and waits for in-flight saves.
func (a *NotesAutosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()

	var err error
	if notes, ok := a.take(); ok {
		err = a.save(ctx, notes)
	}
	a.saving.Wait()
	return err
}

// Close drops pending edits and stops the timer.
func (a *NotesAutosaver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
	}
}
