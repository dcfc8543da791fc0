package gigachat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type fileUploadResponse struct {
	ID     string `json:"id"`
	FileID string `json:"file_id"`
	FileId string `json:"fileId"`
}

func (r fileUploadResponse) fileID() string {
	if r.ID != "" {
		return r.ID
	}
	if r.FileID != "" {
		return r.FileID
	}
	return r.FileId
}

// uploadImage sends a JPEG or PNG to the files endpoint and returns the
// file id. Unsupported extensions fail locally with a ValidationError
// before any network traffic; a 400 from the server is reported the same
// way, so the caller can treat both as page-local problems.
func (c *Client) uploadImage(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var contentType string
	switch ext {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	default:
		return "", &ValidationError{Msg: fmt.Sprintf("unsupported image format %q: only JPEG and PNG are accepted", ext)}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("purpose", "general"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	start := time.Now()
	resp, err := c.postWithAuth(ctx, c.cfg.FilesURL, w.FormDataContentType(), buf.Bytes())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		c.stats.Record("upload", time.Since(start).Milliseconds())
	case resp.StatusCode == http.StatusBadRequest:
		return "", &ValidationError{Msg: "file upload rejected: " + truncate(string(body), 300)}
	default:
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var up fileUploadResponse
	if err := json.Unmarshal(body, &up); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	id := up.fileID()
	if id == "" {
		return "", fmt.Errorf("upload response has no file id")
	}
	return id, nil
}
