package clinic

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"healthcb/backend/internal/apiclient"
	"healthcb/backend/internal/config"
)

var ErrRecordRetriesExhausted = errors.New("max retries reached for creating consultation record")

// ConsultationRecord holds the notes taken during a consultation.
type ConsultationRecord struct {
	ID                ID     `json:"id"`
	Consultation      ID     `json:"consultation"`
	ConsultationNotes string `json:"consultation_notes"`
}

// RecordByRoom returns the room's consultation record, creating it when the
// backend has none yet.
func (c *Client) RecordByRoom(ctx context.Context, roomID string) (*ConsultationRecord, error) {
	rec, err := c.fetchRecord(ctx, roomID)
	if err == nil {
		return rec, nil
	}
	if !apiclient.HasStatus(err, http.StatusNotFound) {
		return nil, err
	}
	return c.EnsureRecord(ctx, roomID)
}

// EnsureRecord gets or creates the record of a room. A create rejected
// because the record already exists falls back to fetching it.
func (c *Client) EnsureRecord(ctx context.Context, roomID string) (*ConsultationRecord, error) {
	log := c.log.With(zap.String("room_id", roomID))

	for attempt := 0; attempt < config.RecordMaxRetries; attempt++ {
		rec, err := c.fetchRecord(ctx, roomID)
		if err == nil {
			return rec, nil
		}
		if !apiclient.HasStatus(err, http.StatusNotFound) {
			return nil, err
		}

		scheduleID, err := c.ScheduleIDByRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}

		rec, err = c.createRecord(ctx, scheduleID)
		if err == nil {
			log.Info("consultation record created", zap.String("schedule_id", scheduleID.String()))
			return rec, nil
		}
		if !recordAlreadyExists(err) {
			log.Error("failed to create consultation record", zap.Error(err))
			return nil, err
		}
		log.Warn("consultation record already exists, fetching", zap.Int("attempt", attempt+1))
	}
	return nil, ErrRecordRetriesExhausted
}

func (c *Client) fetchRecord(ctx context.Context, roomID string) (*ConsultationRecord, error) {
	var rec ConsultationRecord
	path := apiclient.Path("/api/consultation-record/get_room_record/", url.Values{"room": {roomID}})
	if err := c.api.Get(ctx, path, &rec); err != nil {
		return nil, errors.Wrapf(err, "get record for room %s", roomID)
	}
	return &rec, nil
}

func (c *Client) createRecord(ctx context.Context, scheduleID ID) (*ConsultationRecord, error) {
	var rec ConsultationRecord
	body := map[string]ID{"consultation": scheduleID}
	if err := c.api.Post(ctx, "/api/consultation-record/create_record/", body, &rec); err != nil {
		return nil, errors.Wrap(err, "create consultation record")
	}
	return &rec, nil
}

// recordAlreadyExists matches the 400 the backend answers for a duplicate
// record, {"errors": {"consultation": ["... already exists"]}}.
func recordAlreadyExists(err error) bool {
	apiErr, ok := apiclient.AsError(err)
	return ok && apiErr.Status == http.StatusBadRequest && strings.Contains(apiErr.Message, "already exists")
}

// Notes returns the notes of a record.
func (c *Client) Notes(ctx context.Context, recordID string) (string, error) {
	var rec ConsultationRecord
	if err := c.api.Get(ctx, "/api/consultation-record/"+url.PathEscape(recordID)+"/", &rec); err != nil {
		return "", errors.Wrap(err, "get consultation notes")
	}
	return rec.ConsultationNotes, nil
}

// UpdateNotes replaces the notes of a record.
func (c *Client) UpdateNotes(ctx context.Context, recordID, notes string) (*ConsultationRecord, error) {
	var rec ConsultationRecord
	path := "/api/consultation-record/" + url.PathEscape(recordID) + "/update_notes/"
	if err := c.api.Patch(ctx, path, map[string]string{"consultation_notes": notes}, &rec); err != nil {
		return nil, errors.Wrap(err, "update consultation notes")
	}
	return &rec, nil
}
