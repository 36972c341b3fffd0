package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrNoMatch means the service answered but identified nobody.
	ErrNoMatch = errors.New("face not recognized")
	// ErrUnavailable covers transport failures, timeouts and server errors.
	ErrUnavailable = errors.New("face service unavailable")
	// ErrRejected means the service refused the input, e.g. no face in image.
	ErrRejected = errors.New("face service rejected request")
)

// Match is the candidate returned by the recognition service. The service
// is not trusted: the user id may be unknown and confidence out of range.
type Match struct {
	UserID     string  `json:"userId"`
	Confidence float64 `json:"confidence"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client whose requests are bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Recognize asks the service who is in the image (a base64 data URL).
func (c *Client) Recognize(ctx context.Context, image string) (Match, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/recognize", map[string]string{"image": image})
	if err != nil {
		return Match{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Match{}, ErrNoMatch
	case resp.StatusCode >= 300:
		return Match{}, statusError(resp)
	}

	var out Match
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Match{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.UserID == "" {
		return Match{}, ErrNoMatch
	}
	return out, nil
}

// RegisterFace enrolls the face in image under userID.
func (c *Client) RegisterFace(ctx context.Context, userID, image string) error {
	if userID == "" || image == "" {
		return fmt.Errorf("%w: userId and image are required", ErrRejected)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/register-face", map[string]string{
		"userId": userID,
		"image":  image,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

// DeleteFace removes userID from the gallery. A face that is already gone
// counts as deleted.
func (c *Client) DeleteFace(ctx context.Context, userID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/delete-face", map[string]string{"userId": userID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// statusError classifies a non-2xx answer. 4xx is the caller's fault, the
// rest is the service's.
func statusError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	var out struct {
		Error string `json:"error"`
	}
	msg := string(bodyBytes)
	if json.Unmarshal(bodyBytes, &out) == nil && out.Error != "" {
		msg = out.Error
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status, msg)
	}
	return fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, msg)
}
