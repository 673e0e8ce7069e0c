// Package ingest uploads labeled training images to the Edge Impulse
// ingestion service, where the steering model is trained.
package ingest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path"
	"strings"
)

// IngestionBaseURL is the default URL for uploading data.
var IngestionBaseURL = "https://ingestion.edgeimpulse.com"

// Collector holds account details like keys, and allows uploading images.
type Collector struct {
	HTTPClient       *http.Client
	IngestionBaseURL string

	apiKey string
}

// NewCollector makes a new Collector.
// The collectors baseURL is set based on environment variable EI_HOST if set (by prepending "https://ingestion."),
// otherwise defaulting to IngestionBaseURL.
// If you need custom HTTP handling, e.g. for proxy settings, you can override the default HTTPClient.
func NewCollector(apiKey string) (*Collector, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing api key")
	}
	baseURL := IngestionBaseURL
	host := os.Getenv("EI_HOST")
	if host == "localhost" {
		baseURL = "http://localhost:4810"
	} else if strings.HasSuffix(host, "test.edgeimpulse.com") {
		baseURL = "http://ingestion." + host
	} else if strings.HasSuffix(host, "edgeimpulse.com") {
		baseURL = "https://ingestion." + host
	}
	c := &Collector{http.DefaultClient, baseURL, apiKey}
	return c, nil
}

// UploadOpts holds image upload options.
type UploadOpts struct {
	Label              string
	DisallowDuplicates bool
}

// splitCategory picks training or testing for an image based on its content,
// so the same image always ends up in the same category.
func splitCategory(data []byte) (string, error) {
	h := fmt.Sprintf("%x", md5.Sum(data))
	for _, b := range h {
		if b == 'f' {
			continue
		} else if b >= '0' && b <= '9' || b == 'a' || b == 'b' {
			return "training", nil
		} else if b == 'c' || b == 'd' || b == 'e' {
			return "testing", nil
		}
		return "", fmt.Errorf("internal error: cannot determine category for split, byte %v", b)
	}
	return "training", nil
}

func contentType(filename string) (string, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	}
	return "", fmt.Errorf("unsupported image type for %q, need .png or .jpg", filename)
}

// UploadResponse is the reply of the ingestion service to a file upload.
type UploadResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Files   []struct {
		Success  bool   `json:"success"`
		Error    string `json:"error,omitempty"`
		FileName string `json:"fileName"`
	} `json:"files"`
}

// UploadImage sends a single PNG or JPEG image to EdgeImpulse for ingestion.
// Category is one of training, testing or split; split chooses training or
// testing by the image contents.
// For HTTP-related errors, the (wrapped) underlying errors from net/http or an HTTPError can be returned.
func (c *Collector) UploadImage(ctx context.Context, filename string, category string, data []byte, opts *UploadOpts) (UploadResponse, error) {
	var ur UploadResponse

	switch category {
	case "split", "training", "testing":
	default:
		return ur, fmt.Errorf("invalid category %q, need one of: split, training, testing", category)
	}
	if category == "split" {
		var err error
		category, err = splitCategory(data)
		if err != nil {
			return ur, err
		}
	}
	ct, err := contentType(filename)
	if err != nil {
		return ur, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="data"; filename=%q`, filename))
	hdr.Set("Content-Type", ct)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return ur, fmt.Errorf("creating multipart form: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		return ur, fmt.Errorf("writing multipart form: %v", err)
	}
	if err := mw.Close(); err != nil {
		return ur, fmt.Errorf("finishing multipart form: %v", err)
	}

	// Prepare HTTP request for sending data.
	url := fmt.Sprintf("%s/api/%s/files", c.IngestionBaseURL, category)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return ur, fmt.Errorf("new HTTP request: %v", err)
	}
	req.Header.Add("x-api-key", c.apiKey)
	req.Header.Add("Content-Type", mw.FormDataContentType())
	if opts != nil && opts.Label != "" {
		req.Header.Add("x-label", opts.Label)
	}
	if opts != nil && opts.DisallowDuplicates {
		req.Header.Add("x-disallow-duplicates", "1")
	}

	// Perform HTTP request, and handle the response, including possible errors.
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ur, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		// Attempt to read a response message to use in error message, otherwise use http status message.
		msg := resp.Status
		buf, err := io.ReadAll(resp.Body)
		if err == nil && len(buf) > 0 {
			msg = string(buf)
		}
		return ur, HTTPError{resp.StatusCode, msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return ur, fmt.Errorf("reading response message: %w", err)
	}
	if !ur.Success {
		return ur, fmt.Errorf("ingestion: %s", ur.Error)
	}
	for _, f := range ur.Files {
		if !f.Success {
			return ur, fmt.Errorf("ingestion of %s: %s", f.FileName, f.Error)
		}
	}
	return ur, nil
}

// HTTPError represents an HTTP error code and message.
type HTTPError struct {
	Code   int    // HTTP status code, eg 401 or 500.
	Status string // Status message, either from body or the HTTP response status line.
}

// Error returns a human-readable description of the HTTP error.
func (e HTTPError) Error() string {
	return fmt.Sprintf("http response error, code %d: %s", e.Code, e.Status)
}

// Ensure HTTPError implements the error interface.
var _ error = HTTPError{}
