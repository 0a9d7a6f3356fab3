// Package client HTTP клиент API синхронизации tripsync.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iudanet/tripsync/pkg/api"
)

// Device описание устройства, от имени которого идут запросы
type Device struct {
	Priority *int
	ID       string
	Name     string
	Type     string
}

// APIError ответ сервера с кодом не 2xx
type APIError struct {
	Code        string
	Message     string
	OperationID string
	StatusCode  int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError with the given wire code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	device     Device
}

// NewClient создает новый API клиент
func NewClient(baseURL, token string, device Device) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		device:  device,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SyncBatch отправляет пакет операций. Ошибки отдельных операций
// возвращаются в ответе, error только если пакет не принят целиком.
func (c *Client) SyncBatch(ctx context.Context, req api.BatchSyncRequest) (*api.BatchSyncResponse, error) {
	var resp api.BatchSyncResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync/batch", req, &resp); err != nil {
		return nil, fmt.Errorf("batch sync request failed: %w", err)
	}
	return &resp, nil
}

// Incremental запрашивает изменения после since. nil - полная выгрузка
func (c *Client) Incremental(ctx context.Context, since *time.Time) (*api.IncrementalSyncResponse, error) {
	path := "/api/v1/sync/incremental"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	}

	var resp api.IncrementalSyncResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("incremental sync request failed: %w", err)
	}
	return &resp, nil
}

// Conflicts возвращает журнал конфликтов; status "" - все записи
func (c *Client) Conflicts(ctx context.Context, status string) ([]api.ConflictRecord, error) {
	path := "/api/v1/conflicts"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var resp api.ConflictListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list conflicts request failed: %w", err)
	}
	return resp.Conflicts, nil
}

// ResolveConflict закрывает ожидающий конфликт решением local_wins или remote_wins
func (c *Client) ResolveConflict(ctx context.Context, id, resolution string) (*api.ConflictRecord, error) {
	var resp api.ConflictRecord
	path := "/api/v1/conflicts/" + url.PathEscape(id) + "/resolve"
	if err := c.doRequest(ctx, http.MethodPost, path, api.ResolveConflictRequest{Resolution: resolution}, &resp); err != nil {
		return nil, fmt.Errorf("resolve conflict request failed: %w", err)
	}
	return &resp, nil
}

// Devices возвращает устройства пользователя
func (c *Client) Devices(ctx context.Context) ([]api.Device, error) {
	var resp api.DeviceListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/devices", nil, &resp); err != nil {
		return nil, fmt.Errorf("list devices request failed: %w", err)
	}
	return resp.Devices, nil
}

// UpdateDevice меняет имя, тип или приоритет устройства
func (c *Client) UpdateDevice(ctx context.Context, id string, req api.UpdateDeviceRequest) (*api.Device, error) {
	var resp api.Device
	if err := c.doRequest(ctx, http.MethodPut, "/api/v1/devices/"+url.PathEscape(id), req, &resp); err != nil {
		return nil, fmt.Errorf("update device request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.setDeviceHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Code = errResp.Code
			apiErr.OperationID = errResp.OperationID
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) setDeviceHeaders(h http.Header) {
	if c.device.ID != "" {
		h.Set(api.HeaderDeviceID, c.device.ID)
	}
	if c.device.Name != "" {
		h.Set(api.HeaderDeviceName, c.device.Name)
	}
	if c.device.Type != "" {
		h.Set(api.HeaderDeviceType, c.device.Type)
	}
	if c.device.Priority != nil {
		h.Set(api.HeaderDevicePriority, strconv.Itoa(*c.device.Priority))
	}
}
