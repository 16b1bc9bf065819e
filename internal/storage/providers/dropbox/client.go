package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/miroshar-success/book-adapter-epub/internal/storage"
)

const (
	dropboxAPIURL     = "https://api.dropboxapi.com/2"
	dropboxContentURL = "https://content.dropboxapi.com/2"
)

// TokenSource supplies a bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a long-lived access token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("dropbox access token is not configured")
	}
	return string(t), nil
}

// Client implements storage.BlobStore for Dropbox
type Client struct {
	tokenSource TokenSource
	httpClient  *http.Client
	root        string
	apiURL      string
	contentURL  string
}

// Option customizes a Client.
type Option func(*Client)

// WithRoot places every object under the given Dropbox folder.
func WithRoot(root string) Option {
	return func(c *Client) { c.root = "/" + strings.Trim(root, "/") }
}

// WithBaseURLs points the client at a different API host.
func WithBaseURLs(apiURL, contentURL string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimSuffix(apiURL, "/")
		c.contentURL = strings.TrimSuffix(contentURL, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new Dropbox storage client
func NewClient(tokenSource TokenSource, opts ...Option) *Client {
	c := &Client{
		tokenSource: tokenSource,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		root:       "",
		apiURL:     dropboxAPIURL,
		contentURL: dropboxContentURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the error envelope of a Dropbox 409 response.
type apiError struct {
	Status  int
	Summary string `json:"error_summary"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("dropbox API error (status %d): %s", e.Status, e.Summary)
}

func (e *apiError) notFound() bool {
	return e.Status == http.StatusConflict && strings.Contains(e.Summary, "not_found")
}

func (e *apiError) conflict() bool {
	return e.Status == http.StatusConflict && strings.Contains(e.Summary, "conflict")
}

// invalidator is implemented by token sources that cache access tokens.
type invalidator interface {
	Invalidate()
}

func (c *Client) readAPIError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokenSource.(invalidator); ok {
			inv.Invalidate()
		}
	}
	body, _ := io.ReadAll(resp.Body)
	e := &apiError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, e); err != nil || e.Summary == "" {
		e.Summary = string(body)
	}
	return e
}

func (c *Client) fullPath(p string) string {
	return path.Join("/", c.root, p)
}

// rpc performs a JSON-in JSON-out call against the API host.
func (c *Client) rpc(ctx context.Context, endpoint string, body any, out any) error {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type fileMetadata struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathDisplay    string    `json:"path_display"`
	ID             string    `json:"id"`
	ServerModified time.Time `json:"server_modified"`
	Size           int64     `json:"size"`
	ContentHash    string    `json:"content_hash"`
}

func (m fileMetadata) objectInfo(p string) *storage.ObjectInfo {
	return &storage.ObjectInfo{
		Path:        p,
		Size:        m.Size,
		ContentType: storage.ContentType(m.Name),
		ModifiedAt:  m.ServerModified,
		ContentHash: m.ContentHash,
	}
}

func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	_, err := c.Stat(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *Client) Stat(ctx context.Context, p string) (*storage.ObjectInfo, error) {
	var metadata fileMetadata
	err := c.rpc(ctx, "/files/get_metadata", map[string]any{
		"path":                                c.fullPath(p),
		"include_media_info":                  false,
		"include_deleted":                     false,
		"include_has_explicit_shared_members": false,
	}, &metadata)
	if err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.notFound() {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if metadata.Tag == "folder" {
		return nil, storage.ErrNotFound
	}
	return metadata.objectInfo(p), nil
}

// Put uploads in "add" mode with strict conflicts, so an occupied path is
// reported instead of being overwritten or renamed.
func (c *Client) Put(ctx context.Context, p string, r io.Reader, size int64, contentType string) (string, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	uploadArg := map[string]any{
		"path":            c.fullPath(p),
		"mode":            "add",
		"autorename":      false,
		"mute":            true,
		"strict_conflict": true,
	}
	uploadArgBytes, err := json.Marshal(uploadArg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal upload arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/files/upload", r)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(uploadArgBytes))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := c.readAPIError(resp).(*apiError)
		if apiErr.conflict() {
			return "", storage.ErrAlreadyExists
		}
		return "", apiErr
	}

	return c.DownloadURL(ctx, p)
}

// DownloadURL returns a temporary link valid for four hours.
func (c *Client) DownloadURL(ctx context.Context, p string) (string, error) {
	var out struct {
		Link string `json:"link"`
	}
	err := c.rpc(ctx, "/files/get_temporary_link", map[string]string{"path": c.fullPath(p)}, &out)
	if err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.notFound() {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	return out.Link, nil
}

func (c *Client) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	pathArgBytes, err := json.Marshal(map[string]string{"path": c.fullPath(p)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal path arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/files/download", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(pathArgBytes))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr := c.readAPIError(resp).(*apiError)
		if apiErr.notFound() {
			return nil, storage.ErrNotFound
		}
		return nil, apiErr
	}

	return resp.Body, nil
}

func (c *Client) Delete(ctx context.Context, p string) error {
	err := c.rpc(ctx, "/files/delete_v2", map[string]string{"path": c.fullPath(p)}, nil)
	if apiErr, ok := err.(*apiError); ok && apiErr.notFound() {
		return nil
	}
	return err
}
