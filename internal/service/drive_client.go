package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// DriveFolder is a folder found in the shared drive
type DriveFolder struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	WebLink string `json:"webViewLink"`
}

// PermissionGranter finds download folders and grants read access.
// GrantRead is idempotent: granting to a user who already has access
// succeeds.
type PermissionGranter interface {
	FindFolder(ctx context.Context, name string) (*DriveFolder, error)
	GrantRead(ctx context.Context, fileID, email string) error
}

// DriveClient implements PermissionGranter against the Drive v3 REST API
type DriveClient struct {
	apiBase     string
	accessToken string
	client      *http.Client
	logger      *zap.Logger
}

// NewDriveClient creates a drive client
func NewDriveClient(apiBase, accessToken string, timeout time.Duration) *DriveClient {
	return &DriveClient{
		apiBase:     apiBase,
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
		logger:      util.GetLogger(),
	}
}

type driveFileList struct {
	Files []DriveFolder `json:"files"`
}

// FindFolder looks up a folder by exact name. Returns nil when the
// worker has not created it yet.
func (dc *DriveClient) FindFolder(ctx context.Context, name string) (*DriveFolder, error) {
	ctx, span := util.StartSpan(ctx, "DriveClient.FindFolder")
	defer span.End()

	query := fmt.Sprintf("name = '%s' and mimeType = 'application/vnd.google-apps.folder' and trashed = false",
		strings.ReplaceAll(name, "'", `\'`))

	u := fmt.Sprintf("%s/files?q=%s&fields=%s&pageSize=1",
		dc.apiBase,
		url.QueryEscape(query),
		url.QueryEscape("files(id,name,webViewLink)"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build folder lookup: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+dc.accessToken)

	resp, err := dc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("folder lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("folder lookup failed: status %d: %s", resp.StatusCode, string(body))
	}

	var list driveFileList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode folder lookup: %w", err)
	}

	if len(list.Files) == 0 {
		return nil, nil
	}

	folder := list.Files[0]
	dc.logger.Debug("Drive folder found",
		zap.String("name", name),
		zap.String("folder_id", folder.ID))

	return &folder, nil
}

// GrantRead gives the buyer read access to a drive file or folder
func (dc *DriveClient) GrantRead(ctx context.Context, fileID, email string) error {
	ctx, span := util.StartSpan(ctx, "DriveClient.GrantRead")
	defer span.End()

	body, err := json.Marshal(map[string]string{
		"role":         "reader",
		"type":         "user",
		"emailAddress": email,
	})
	if err != nil {
		return fmt.Errorf("failed to encode permission: %w", err)
	}

	u := fmt.Sprintf("%s/files/%s/permissions?sendNotificationEmail=false", dc.apiBase, url.PathEscape(fileID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build permission request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+dc.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := dc.client.Do(req)
	if err != nil {
		util.GrantAccessTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("permission request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// a duplicate grant means the user already has access
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(data), "duplicate") {
			util.GrantAccessTotal.WithLabelValues("already_granted").Inc()
			return nil
		}
		util.GrantAccessTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("permission request failed: status %d: %s", resp.StatusCode, string(data))
	}

	util.GrantAccessTotal.WithLabelValues("granted").Inc()
	dc.logger.Info("Drive access granted",
		zap.String("file_id", fileID),
		zap.String("email", email))

	return nil
}
