// Package hub publishes a finished checkpoint directory to a remote
// store. The directory tree is treated as a black box: files upload
// as-is, and remote failures (auth, network) pass through unmodified.
package hub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Client pushes checkpoint trees to a hub endpoint.
type Client struct {
	// BaseURL is the hub root, e.g. "https://hub.example.com".
	BaseURL string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewClient returns a Client for the hub at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// Push uploads every regular file under dir to the hub repository repoID,
// preserving relative paths. The token authenticates the call; the hub's
// errors are returned unwrapped beyond the usual %w context.
func (c *Client) Push(ctx context.Context, dir, repoID, token string) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		// The relative path rides the field name: multipart readers strip
		// directories from the filename, so only the field survives intact.
		part, err := mw.CreateFormFile(filepath.ToSlash(rel), filepath.Base(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(part, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("collect checkpoint files: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := strings.TrimSuffix(c.BaseURL, "/") + "/api/repos/" + repoID + "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push to %s: %w", repoID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("push to %s: %s: %s", repoID, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
