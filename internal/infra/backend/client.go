package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smart-room/internal/domain"
	"smart-room/internal/infra"
)

const DefaultBaseURL = "http://localhost:1880/api/v1"

// Client talks to the room backend's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      infra.RetryConfig
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      infra.DefaultRetryConfig(),
	}
}

type toggleRequest struct {
	Status bool `json:"status"`
}

type toggleResponse struct {
	ID     string `json:"id"`
	Status bool   `json:"status"`
}

type valueRequest struct {
	Value *domain.Value `json:"value"`
}

type batchResponse struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
}

type registerRequest struct {
	Name      string       `json:"name"`
	FaceImage domain.Frame `json:"face_image"`
}

type loginRequest struct {
	FaceImage domain.Frame `json:"face_image"`
}

type createPresetRequest struct {
	Name         string               `json:"name"`
	UserID       string               `json:"user_id,omitempty"`
	FaceImage    domain.Frame         `json:"face_image"`
	GestureImage domain.Frame         `json:"gesture_image"`
	DeviceStates []domain.DeviceState `json:"device_states"`
}

type recognizePresetRequest struct {
	FaceImage    domain.Frame `json:"face_image"`
	GestureImage domain.Frame `json:"gesture_image"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var devices []domain.Device
	if err := c.get(ctx, "/devices", &devices); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

func (c *Client) ToggleDevice(ctx context.Context, id string, status bool) (bool, error) {
	var resp toggleResponse
	if err := c.send(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/toggle", toggleRequest{Status: status}, &resp); err != nil {
		return false, fmt.Errorf("toggling %s: %w", id, err)
	}
	return resp.Status, nil
}

func (c *Client) SetDeviceValue(ctx context.Context, id string, value *domain.Value) error {
	if err := c.send(ctx, http.MethodPut, "/devices/"+url.PathEscape(id)+"/value", valueRequest{Value: value}, nil); err != nil {
		return fmt.Errorf("setting value of %s: %w", id, err)
	}
	return nil
}

func (c *Client) BatchUpdate(ctx context.Context, updates []domain.DeviceUpdate) (int, error) {
	var resp batchResponse
	if err := c.send(ctx, http.MethodPost, "/devices/batch", updates, &resp); err != nil {
		return 0, fmt.Errorf("batch update: %w", err)
	}
	if !resp.Success {
		return 0, &domain.APIError{StatusCode: http.StatusOK, Message: "batch rejected"}
	}
	return resp.Updated, nil
}

func (c *Client) UpdateDevice(ctx context.Context, id string, patch domain.DeviceUpdate) (domain.Device, error) {
	var device domain.Device
	if err := c.send(ctx, http.MethodPut, "/devices/"+url.PathEscape(id), patch, &device); err != nil {
		return domain.Device{}, fmt.Errorf("updating %s: %w", id, err)
	}
	return device, nil
}

func (c *Client) Register(ctx context.Context, name string, face domain.Frame) (domain.UserProfile, error) {
	var user domain.UserProfile
	if err := c.send(ctx, http.MethodPost, "/auth/register", registerRequest{Name: name, FaceImage: face}, &user); err != nil {
		return domain.UserProfile{}, fmt.Errorf("registering %s: %w", name, err)
	}
	return user, nil
}

// Login returns domain.ErrNoMatch when the face belongs to nobody registered.
func (c *Client) Login(ctx context.Context, face domain.Frame) (domain.UserProfile, error) {
	var user domain.UserProfile
	err := c.send(ctx, http.MethodPost, "/auth/login", loginRequest{FaceImage: face}, &user)
	if isNotFound(err) {
		return domain.UserProfile{}, domain.ErrNoMatch
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("recognizing face: %w", err)
	}
	return user, nil
}

func (c *Client) CreatePreset(ctx context.Context, preset domain.Preset) (domain.Preset, error) {
	req := createPresetRequest{
		Name:         preset.Name,
		UserID:       preset.UserID,
		FaceImage:    preset.FaceImage,
		GestureImage: preset.GestureImage,
		DeviceStates: preset.DeviceStates,
	}

	var created domain.Preset
	if err := c.send(ctx, http.MethodPost, "/presets/create", req, &created); err != nil {
		return domain.Preset{}, fmt.Errorf("creating preset %s: %w", preset.Name, err)
	}
	return created, nil
}

func (c *Client) RecognizePreset(ctx context.Context, face, gesture domain.Frame) (domain.Preset, error) {
	var preset domain.Preset
	err := c.send(ctx, http.MethodPost, "/presets/recognize", recognizePresetRequest{FaceImage: face, GestureImage: gesture}, &preset)
	if isNotFound(err) {
		return domain.Preset{}, domain.ErrNoMatch
	}
	if err != nil {
		return domain.Preset{}, fmt.Errorf("recognizing preset: %w", err)
	}
	return preset, nil
}

func (c *Client) ListPresets(ctx context.Context) ([]domain.Preset, error) {
	var presets []domain.Preset
	if err := c.get(ctx, "/presets", &presets); err != nil {
		return nil, fmt.Errorf("listing presets: %w", err)
	}
	return presets, nil
}

// get retries on transient failures; reads are safe to repeat.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return infra.WithRetry(ctx, c.retry, func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) && !infra.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return infra.Permanent(err)
		}
		return err
	})
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return c.do(ctx, method, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func apiError(status int, body []byte) *domain.APIError {
	var e errorResponse
	msg := ""
	if json.Unmarshal(body, &e) == nil {
		msg = e.Message
		if msg == "" {
			msg = e.Error
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &domain.APIError{StatusCode: status, Message: msg}
}

func isNotFound(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
