// Package api talks to the replay frontend that lists recorded sessions.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/OCAP2/vehiclesim/pkg/core"
)

const (
	healthPath = "/healthcheck"
	uploadPath = "/api/v1/sessions/add"

	defaultAttempts = 3
)

// ErrRejected is returned when the frontend refuses the secret.
var ErrRejected = errors.New("frontend rejected the api key")

// StatusError is an unexpected HTTP status from the frontend.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Op, e.Code)
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client uploads finished sessions to the replay frontend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Attempts bounds how often an upload is tried on server errors.
	Attempts int
	// Backoff is the wait before the second attempt, doubled after each failure.
	Backoff time.Duration
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		Attempts:   defaultAttempts,
		Backoff:    2 * time.Second,
	}
}

// Healthcheck checks if the frontend is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "healthcheck", Code: resp.StatusCode}
	}
	return nil
}

// Upload sends an exported session file with its metadata. Server errors are retried
// with backoff; a refused key is not.
func (c *Client) Upload(ctx context.Context, filePath string, meta core.UploadMetadata) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	attempts := max(c.Attempts, 1)
	wait := c.Backoff
	var err error
	for i := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}
		err = c.upload(ctx, filePath, meta)
		var status *StatusError
		if err == nil || !errors.As(err, &status) || !status.Temporary() {
			return err
		}
	}
	return fmt.Errorf("upload failed after %d attempts: %w", attempts, err)
}

// fields are the form values sent with the file.
func (c *Client) fields(filePath string, meta core.UploadMetadata) [][2]string {
	return [][2]string{
		{"secret", c.apiKey},
		{"filename", filepath.Base(filePath)},
		{"sessionName", meta.SessionName},
		{"sessionDuration", strconv.FormatFloat(meta.Duration, 'f', 3, 64)},
		{"vehicles", strconv.Itoa(meta.Vehicles)},
		{"tag", meta.Tag},
		{"tickRate", strconv.FormatFloat(meta.TickRate, 'f', -1, 64)},
		{"ticks", strconv.FormatUint(uint64(meta.Ticks), 10)},
		{"schemaVersion", strconv.FormatUint(uint64(meta.SchemaVer), 10)},
	}
}

// upload streams one multipart request through a pipe, so the file is never held in
// memory.
func (c *Client) upload(ctx context.Context, filePath string, meta core.UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		err := func() error {
			for _, f := range c.fields(filePath, meta) {
				if err := writer.WriteField(f[0], f[1]); err != nil {
					return err
				}
			}
			part, err := writer.CreateFormFile("file", filepath.Base(filePath))
			if err != nil {
				return fmt.Errorf("failed to create form file: %w", err)
			}
			if _, err := io.Copy(part, file); err != nil {
				return fmt.Errorf("failed to copy file: %w", err)
			}
			return writer.Close()
		}()
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, pr)
	if err != nil {
		pr.CloseWithError(err)
		<-errCh
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		<-errCh
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// the frontend may answer before reading the whole body
	pr.Close()
	writeErr := <-errCh

	switch resp.StatusCode {
	case http.StatusOK:
		return writeErr
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("upload: %w", ErrRejected)
	}
	return &StatusError{Op: "upload", Code: resp.StatusCode}
}
