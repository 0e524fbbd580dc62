package clinic

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"healthcb/backend/internal/apiclient"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

var ErrInvalidStatus = errors.New("status must be accepted or rejected")

type NewConsultationRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Symptoms        string `json:"symptoms"`
	Duration        string `json:"duration"`
	AdditionalNotes string `json:"additional_notes"`
}

type ConsultationRequest struct {
	Type       string            `json:"type"`
	ID         ID                `json:"id"`
	Attributes RequestAttributes `json:"attributes"`
}

type RequestAttributes struct {
	Date            string        `json:"date"`
	StartTime       string        `json:"start_time"`
	EndTime         string        `json:"end_time"`
	Symptoms        string        `json:"symptoms"`
	Duration        string        `json:"duration"`
	AdditionalNotes string        `json:"additional_notes"`
	Status          RequestStatus `json:"status"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
	DoctorDetails   struct {
		AccountID  int    `json:"AccountID"`
		EmployeeID string `json:"EmployeeID"`
	} `json:"doctor_details"`
	Relationships struct {
		Patient struct {
			ID         ID `json:"id"`
			Attributes struct {
				FirstName     string `json:"first_name"`
				LastName      string `json:"last_name"`
				Email         string `json:"email"`
				ContactNumber string `json:"contact_number"`
			} `json:"attributes"`
		} `json:"patient"`
	} `json:"relationships"`
}

// RequestFilter narrows Requests; zero fields are not sent.
type RequestFilter struct {
	Date   time.Time
	Status RequestStatus
}

func (c *Client) CreateRequest(ctx context.Context, req NewConsultationRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.api.Post(ctx, "/api/consultation-request/create_request/", req, &out); err != nil {
		return nil, errors.Wrap(err, "create consultation request")
	}
	return out, nil
}

func (c *Client) Requests(ctx context.Context, filter RequestFilter) ([]ConsultationRequest, error) {
	query := url.Values{}
	if !filter.Date.IsZero() {
		query.Set("date", filter.Date.Format(DateLayout))
	}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}

	var out envelope[[]ConsultationRequest]
	if err := c.api.Get(ctx, apiclient.Path("/api/consultation-request/", query), &out); err != nil {
		c.log.Error("failed to fetch consultation requests", zap.Error(err))
		return nil, errors.Wrap(err, "get consultation requests")
	}
	return out.Data, nil
}

// UpdateRequestStatus accepts or rejects a request.
func (c *Client) UpdateRequestStatus(ctx context.Context, requestID string, status RequestStatus) (json.RawMessage, error) {
	if status != RequestAccepted && status != RequestRejected {
		return nil, ErrInvalidStatus
	}
	var out json.RawMessage
	path := "/api/consultation-request/" + url.PathEscape(requestID) + "/update_status/"
	if err := c.api.Patch(ctx, path, map[string]RequestStatus{"status": status}, &out); err != nil {
		return nil, errors.Wrap(err, "update consultation request status")
	}
	return out, nil
}
