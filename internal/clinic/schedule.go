package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"healthcb/backend/internal/apiclient"
)

// DateLayout is the YYYY-MM-DD form the schedule endpoints expect.
const DateLayout = "2006-01-02"

var ErrUnexpectedStatus = errors.New("unexpected response status")

type TimeSlot struct {
	Date      string   `json:"date"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Recurring bool     `json:"recurring"`
	Days      []string `json:"recurring_days,omitempty"`
}

type BlockedTime struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason"`
}

// ScheduleStatus is available, booked or blocked.
type ScheduleStatus string

const (
	ScheduleAvailable ScheduleStatus = "available"
	ScheduleBooked    ScheduleStatus = "booked"
	ScheduleBlocked   ScheduleStatus = "blocked"
)

type Schedule struct {
	ID         ID                 `json:"id"`
	Attributes ScheduleAttributes `json:"attributes"`
}

type ScheduleAttributes struct {
	Date      string         `json:"date"`
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time"`
	Status    ScheduleStatus `json:"status"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

func (c *Client) AddTimeSlot(ctx context.Context, slot TimeSlot) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.api.Post(ctx, "/api/schedule/add_time_slot/", slot, &out); err != nil {
		return nil, errors.Wrap(err, "add time slot")
	}
	return out, nil
}

func (c *Client) BlockTime(ctx context.Context, block BlockedTime) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.api.Post(ctx, "/api/schedule/block_time/", block, &out); err != nil {
		return nil, errors.Wrap(err, "block time")
	}
	return out, nil
}

// DeleteTimeSlot succeeds only on 204 No Content.
func (c *Client) DeleteTimeSlot(ctx context.Context, slotID string) error {
	status, err := c.api.Send(ctx, http.MethodDelete, "/api/schedule/"+url.PathEscape(slotID)+"/", nil, nil)
	if err != nil {
		return errors.Wrap(err, "delete time slot")
	}
	if status != http.StatusNoContent {
		return errors.Wrapf(ErrUnexpectedStatus, "delete time slot: status %d", status)
	}
	return nil
}

func (c *Client) Schedules(ctx context.Context) ([]Schedule, error) {
	return c.scheduleList(ctx, "/api/schedule/")
}

// AvailableSlots returns the raw slot list for date; its shape is owned by
// the consumer.
func (c *Client) AvailableSlots(ctx context.Context, date time.Time) (json.RawMessage, error) {
	path := apiclient.Path("/api/schedule/available_slots/", url.Values{"date": {date.Format(DateLayout)}})
	var out json.RawMessage
	if err := c.api.Get(ctx, path, &out); err != nil {
		return nil, errors.Wrap(err, "get available slots")
	}
	return out, nil
}

func (c *Client) BookedSchedules(ctx context.Context) ([]Schedule, error) {
	return c.scheduleList(ctx, "/api/schedule/booked_schedules/")
}

func (c *Client) PatientBookedSchedules(ctx context.Context) ([]Schedule, error) {
	return c.scheduleList(ctx, "/api/schedule/patient_booked_schedules/")
}

// ScheduleIDByRoom returns the schedule a consultation room was booked from.
func (c *Client) ScheduleIDByRoom(ctx context.Context, roomID string) (ID, error) {
	var out struct {
		ID   ID `json:"id"`
		Data struct {
			ID ID `json:"id"`
		} `json:"data"`
	}
	if err := c.api.Get(ctx, "/api/schedule/by-room/"+url.PathEscape(roomID)+"/", &out); err != nil {
		return "", errors.Wrapf(err, "get schedule for room %s", roomID)
	}
	if out.Data.ID != "" {
		return out.Data.ID, nil
	}
	if out.ID != "" {
		return out.ID, nil
	}
	return "", errors.Errorf("no schedule found for room %s", roomID)
}

func (c *Client) scheduleList(ctx context.Context, path string) ([]Schedule, error) {
	var out envelope[[]Schedule]
	if err := c.api.Get(ctx, path, &out); err != nil {
		return nil, errors.Wrapf(err, "get %s", path)
	}
	return out.Data, nil
}
