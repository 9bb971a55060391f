package sessionclient

import (
	"context"
	"fmt"
	"time"

	"lessonlive/internal/core/domain"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer from the coordinator's HTTP API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator returned %d %s: %s", e.Status, e.Code, e.Message)
}

// AdmissionClient runs the pre-join check so a client can skip a join it
// already knows will be rejected.
type AdmissionClient struct {
	http *resty.Client
}

func NewAdmissionClient(baseURL, token string) *AdmissionClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")

	return &AdmissionClient{http: client}
}

func (a *AdmissionClient) Check(ctx context.Context, roomID domain.RoomID) (*domain.Admission, error) {
	var adm domain.Admission
	var apiErr APIError
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", string(roomID)).
		SetResult(&adm).
		SetError(&apiErr).
		Get("/api/v1/rooms/{id}/admission")
	if err != nil {
		return nil, fmt.Errorf("admission request failed: %w", err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return nil, &apiErr
	}
	return &adm, nil
}
