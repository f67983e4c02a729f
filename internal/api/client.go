// Package api talks to a flight-log server that archives exported
// recordings.
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	healthPath = "/healthcheck"
	uploadPath = "/api/v1/flights"
)

// Metadata describes an uploaded recording.
type Metadata struct {
	SessionID       string
	SessionName     string
	Source          string
	DurationSeconds float64
	Samples         uint64
}

// StatusError is returned when the server answers with an unexpected
// status. Body holds at most the first 512 bytes of the reply.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Code, e.Body)
}

// Client uploads recordings to one flight-log server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck reports whether the server answers 200 on its health route.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()
	return expect("healthcheck", resp, http.StatusOK)
}

// Upload posts the recording at path with meta. It satisfies the
// recorder's uploader and runs without a deadline beyond the client
// timeout.
func (c *Client) Upload(path string, meta Metadata) error {
	return c.UploadContext(context.Background(), path, meta)
}

// UploadContext streams path as the "file" part of a multipart form,
// preceded by the metadata fields. 200 and 201 count as success.
func (c *Client) UploadContext(ctx context.Context, path string, meta Metadata) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(form, f, filepath.Base(path), meta))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, pr)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("upload: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()
	return expect("upload", resp, http.StatusOK, http.StatusCreated)
}

func (c *Client) writeForm(form *multipart.Writer, src io.Reader, name string, meta Metadata) error {
	fields := [][2]string{
		{"secret", c.apiKey},
		{"filename", name},
		{"sessionId", meta.SessionID},
		{"sessionName", meta.SessionName},
		{"source", meta.Source},
		{"duration", strconv.FormatFloat(meta.DurationSeconds, 'f', 3, 64)},
		{"samples", strconv.FormatUint(meta.Samples, 10)},
	}
	for _, kv := range fields {
		if err := form.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return form.Close()
}

func expect(op string, resp *http.Response, codes ...int) error {
	for _, code := range codes {
		if resp.StatusCode == code {
			return nil
		}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
