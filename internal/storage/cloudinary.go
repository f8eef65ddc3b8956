// Package storage talks to the Cloudinary REST API. Uploads return a public
// URL plus the public id needed to delete the object later.
package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.cloudinary.com"

var (
	// ErrMissingCredentials indicates incomplete Cloudinary configuration.
	ErrMissingCredentials = errors.New("storage: cloudinary credentials required")

	errEmptyPublicID = errors.New("storage: public id must not be empty")
)

// CloudinaryConfig bundles the credentials and transport for the client.
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadFolder string
	BaseURL      string
	HTTPClient   *http.Client
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Cloudinary is a signed-request client for raw file upload and deletion.
type Cloudinary struct {
	cloudName    string
	apiKey       string
	apiSecret    string
	uploadFolder string
	baseURL      string
	httpClient   *http.Client
	clock        func() time.Time
	logger       *zap.Logger
}

// UploadResult carries the public URL and the deletion handle of a stored object.
type UploadResult struct {
	URL      string
	PublicID string
}

// NewCloudinary constructs a client with validated configuration.
func NewCloudinary(cfg CloudinaryConfig) (*Cloudinary, error) {
	if strings.TrimSpace(cfg.CloudName) == "" ||
		strings.TrimSpace(cfg.APIKey) == "" ||
		strings.TrimSpace(cfg.APISecret) == "" {
		return nil, ErrMissingCredentials
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cloudinary{
		cloudName:    strings.TrimSpace(cfg.CloudName),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		apiSecret:    strings.TrimSpace(cfg.APISecret),
		uploadFolder: strings.TrimSpace(cfg.UploadFolder),
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpClient,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Upload stores the file as a raw object and returns its public URL and id.
func (c *Cloudinary) Upload(ctx context.Context, file io.Reader, filename string) (UploadResult, error) {
	timestamp := strconv.FormatInt(c.clock().UTC().Unix(), 10)
	publicID := timestamp + "_" + sanitizeFilename(filename)

	params := map[string]string{
		"public_id": publicID,
		"timestamp": timestamp,
	}
	if c.uploadFolder != "" {
		params["folder"] = c.uploadFolder
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.apiKey

	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return UploadResult{}, err
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return UploadResult{}, err
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, err
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/raw/upload", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.String()))
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return UploadResult{}, fmt.Errorf("storage: upload returned status %d", response.StatusCode)
	}

	var payload struct {
		SecureURL string `json:"secure_url"`
		PublicID  string `json:"public_id"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return UploadResult{}, err
	}
	if payload.SecureURL == "" || payload.PublicID == "" {
		return UploadResult{}, errors.New("storage: upload response missing url or public id")
	}

	c.logger.Debug("object uploaded", zap.String("public_id", payload.PublicID))
	return UploadResult{URL: payload.SecureURL, PublicID: payload.PublicID}, nil
}

// Destroy deletes a stored object by its public id.
func (c *Cloudinary) Destroy(ctx context.Context, publicID string) error {
	if strings.TrimSpace(publicID) == "" {
		return errEmptyPublicID
	}

	timestamp := strconv.FormatInt(c.clock().UTC().Unix(), 10)
	params := map[string]string{
		"public_id": publicID,
		"timestamp": timestamp,
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.apiKey

	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/raw/destroy", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.String()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("storage: destroy returned status %d", response.StatusCode)
	}

	var payload struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return err
	}
	if payload.Result != "ok" && payload.Result != "not found" {
		return fmt.Errorf("storage: destroy returned result %q", payload.Result)
	}

	c.logger.Debug("object destroyed", zap.String("public_id", publicID))
	return nil
}

// sign produces the Cloudinary request signature: the parameters sorted by
// key, joined as a query string, with the API secret appended, SHA-1 hashed.
// The api_key, signature, and file parameters are never part of the digest.
func (c *Cloudinary) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	digest := sha1.Sum([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(digest[:])
}

func sanitizeFilename(filename string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(filename))
	if cleaned == "" {
		cleaned = "file"
	}
	return cleaned
}
