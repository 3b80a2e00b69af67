package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// EnrollStatusEnrolled is the status the enrollment service reports
// once the proxy account actually holds the course. Anything else,
// success flag or not, means the course is not ready to download.
const EnrollStatusEnrolled = "enrolled"

// EnrollmentClient enrolls the platform proxy account into a course on
// the learning platform. An explicit rejection comes back as a result
// with Success=false; an error return means the outcome is unknown.
type EnrollmentClient interface {
	Enroll(ctx context.Context, courseURL string) (*models.EnrollResult, error)
}

// HTTPEnrollmentClient talks to the enrollment sidecar over HTTP
type HTTPEnrollmentClient struct {
	baseURL       string
	platformEmail string
	client        *http.Client
	logger        *zap.Logger
}

// NewHTTPEnrollmentClient creates an enrollment client
func NewHTTPEnrollmentClient(baseURL, platformEmail string, timeout time.Duration) *HTTPEnrollmentClient {
	return &HTTPEnrollmentClient{
		baseURL:       baseURL,
		platformEmail: platformEmail,
		client:        &http.Client{Timeout: timeout},
		logger:        util.GetLogger(),
	}
}

type enrollRequest struct {
	CourseURL string `json:"courseUrl"`
	Email     string `json:"email"`
}

type enrollResponse struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	CourseID int64  `json:"courseId"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// Enroll enrolls the proxy account into the given course
func (ec *HTTPEnrollmentClient) Enroll(ctx context.Context, courseURL string) (*models.EnrollResult, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentClient.Enroll")
	defer span.End()

	body, err := json.Marshal(enrollRequest{
		CourseURL: courseURL,
		Email:     ec.platformEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode enroll request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ec.baseURL+"/api/enroll", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build enroll request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := ec.client.Do(req)
	util.EnrollLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("enroll request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read enroll response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("enrollment service error: status %d", resp.StatusCode)
	}

	var er enrollResponse
	if err := json.Unmarshal(data, &er); err != nil {
		return nil, fmt.Errorf("failed to decode enroll response: %w", err)
	}

	result := &models.EnrollResult{
		Success:  er.Success,
		Status:   er.Status,
		CourseID: er.CourseID,
		Title:    er.Title,
		Message:  er.Message,
	}

	// 4xx with a decoded body is an explicit rejection, not a transport failure
	if resp.StatusCode >= 400 && result.Success {
		result.Success = false
		if result.Message == "" {
			result.Message = fmt.Sprintf("enrollment rejected: status %d", resp.StatusCode)
		}
	}

	ec.logger.Debug("Enroll response received",
		zap.String("course_url", courseURL),
		zap.Bool("success", result.Success),
		zap.String("status", result.Status))

	return result, nil
}
