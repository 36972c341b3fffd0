package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.cloudinary.com/v1_1"

// Client stores user photos in Cloudinary using their REST API.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	APIBase   string
	HTTP      *http.Client
	now       func() time.Time
}

// New creates a Cloudinary client.
func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		APIBase:   defaultAPIBase,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// UploadResult holds the response from Cloudinary after a successful upload.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// UploadBase64 uploads a data URL ("data:image/jpeg;base64,...") or raw
// base64 image.
func (c *Client) UploadBase64(ctx context.Context, data string) (*UploadResult, error) {
	params := c.signedParams(nil)

	var result UploadResult
	if err := c.post(ctx, "upload", params, data, &result); err != nil {
		return nil, fmt.Errorf("cloudinary: upload failed: %w", err)
	}
	return &result, nil
}

// Destroy deletes an uploaded image. Missing images are not an error.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	if publicID == "" {
		return nil
	}
	params := c.signedParams(map[string]string{"public_id": publicID})

	var out struct {
		Result string `json:"result"`
	}
	if err := c.post(ctx, "destroy", params, "", &out); err != nil {
		return fmt.Errorf("cloudinary: destroy failed: %w", err)
	}
	if out.Result != "ok" && out.Result != "not found" {
		return fmt.Errorf("cloudinary: destroy %s: %s", publicID, out.Result)
	}
	return nil
}

func (c *Client) signedParams(extra map[string]string) map[string]string {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.clock().Unix(), 10),
		"api_key":   c.APIKey,
	}
	if c.Folder != "" && extra == nil {
		params["folder"] = c.Folder
	}
	for k, v := range extra {
		params[k] = v
	}
	params["signature"] = c.sign(params)
	return params
}

func (c *Client) post(ctx context.Context, action string, params map[string]string, file string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	if file != "" {
		_ = w.WriteField("file", file)
	}
	w.Close()

	base := c.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	url := fmt.Sprintf("%s/%s/image/%s", base, c.CloudName, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func (c *Client) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// sign computes the Cloudinary API signature from the given params.
// api_key and file are excluded from the signature.
func (c *Client) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	payload := strings.Join(pairs, "&") + c.APISecret
	h := sha1.New()
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}
