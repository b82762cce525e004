package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
)

// FSEntry describes a file or directory inside a machine.
type FSEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
}

// Filesystem wraps the file operations of the initd API.
type Filesystem struct {
	client *Client
}

func withPath(endpoint, p string) string {
	return endpoint + "?" + url.Values{"path": {p}}.Encode()
}

// Ls lists a directory. An empty dir lists the root.
func (s *Filesystem) Ls(ctx context.Context, dir string) ([]FSEntry, error) {
	if dir == "" {
		dir = "/"
	}
	var entries []FSEntry
	if err := s.client.Call(ctx, http.MethodGet, withPath("/fs/ls", dir), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Mkdir creates a directory.
func (s *Filesystem) Mkdir(ctx context.Context, dir string) error {
	return s.client.Call(ctx, http.MethodPost, "/fs/mkdir", map[string]string{"dir": dir}, nil)
}

// ReadFile returns the content of a file as text.
func (s *Filesystem) ReadFile(ctx context.Context, name string) (string, error) {
	var content string
	if err := s.client.Call(ctx, http.MethodGet, withPath("/fs/read", name), nil, &content); err != nil {
		return "", err
	}
	return content, nil
}

// WriteFile uploads content to name as a multipart form.
func (s *Filesystem) WriteFile(ctx context.Context, name string, content io.Reader) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("path", name); err != nil {
		return fmt.Errorf("failed to encode form: %w", err)
	}
	part, err := form.CreateFormFile("file", path.Base(name))
	if err != nil {
		return fmt.Errorf("failed to encode form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("failed to read file content: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("failed to encode form: %w", err)
	}

	req, err := s.client.NewRequest(ctx, http.MethodPost, "/fs/write", nil, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	return s.client.do(req, nil)
}

// Rm removes a file or directory.
func (s *Filesystem) Rm(ctx context.Context, name string) error {
	return s.client.Call(ctx, http.MethodPost, withPath("/fs/rm", name), nil, nil)
}

// Stat describes a single file.
func (s *Filesystem) Stat(ctx context.Context, name string) (*FSEntry, error) {
	var entry FSEntry
	if err := s.client.Call(ctx, http.MethodGet, withPath("/fs/stat", name), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
