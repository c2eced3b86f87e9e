// Package homeassistant provides clients for the Home Assistant API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wrenly/hearth/internal/httpkit"
)

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Home Assistant client. The retry option covers
// transient dial failures only; service calls are never replayed after
// bytes reach the server.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// State represents an entity state from Home Assistant.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the part of the entity ID before the dot.
func (s State) Domain() string {
	if i := strings.IndexByte(s.EntityID, '.'); i > 0 {
		return s.EntityID[:i]
	}
	return ""
}

// FriendlyName returns the friendly_name attribute, or the entity ID
// when none is set.
func (s State) FriendlyName() string {
	if fn, ok := s.Attributes["friendly_name"].(string); ok && fn != "" {
		return fn
	}
	return s.EntityID
}

// SupportedFeatures returns the entity's capability bitmask. Entities
// without the attribute report zero.
func (s State) SupportedFeatures() int {
	// JSON numbers decode as float64.
	if f, ok := s.Attributes["supported_features"].(float64); ok {
		return int(f)
	}
	return 0
}

// APIStatus represents the HA API status response.
type APIStatus struct {
	Message string `json:"message"`
}

// Ping checks if the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var status APIStatus
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetStates retrieves all entity states.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.get(ctx, "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// GetState retrieves a single entity state. Returns nil, nil when the
// entity does not exist.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var state State
	if err := c.get(ctx, "/api/states/"+entityID, &state); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// States returns live states filtered to a domain. An empty domain
// returns everything. Implements the state source consumed by the
// resolver.
func (c *Client) States(ctx context.Context, domain string) ([]State, error) {
	states, err := c.GetStates(ctx)
	if err != nil {
		return nil, err
	}
	if domain == "" {
		return states, nil
	}
	filtered := states[:0]
	for _, s := range states {
		if s.Domain() == domain {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// ServiceTarget narrows a service call to specific entities or areas.
type ServiceTarget struct {
	EntityID []string `json:"entity_id,omitempty"`
	AreaID   []string `json:"area_id,omitempty"`
}

// CallService calls a Home Assistant service. The call is synchronous on
// the HA side; device side effects are at-most-once attempts and are not
// rolled back on later failures.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any, target *ServiceTarget) error {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if target != nil {
		if len(target.EntityID) == 1 {
			payload["entity_id"] = target.EntityID[0]
		} else if len(target.EntityID) > 0 {
			payload["entity_id"] = target.EntityID
		}
		if len(target.AreaID) > 0 {
			payload["area_id"] = target.AreaID
		}
	}

	c.logger.Info("calling service",
		"domain", domain,
		"service", service,
		"target", payload["entity_id"],
	)

	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.post(ctx, path, payload, nil)
}

// Area represents a Home Assistant area.
type Area struct {
	AreaID  string   `json:"area_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// GetAreas retrieves all areas from the area registry.
func (c *Client) GetAreas(ctx context.Context) ([]Area, error) {
	var areas []Area
	if err := c.get(ctx, "/api/config/area_registry/list", &areas); err != nil {
		return nil, err
	}
	return areas, nil
}

// EntityRegistryEntry represents an entity from the registry with area info.
type EntityRegistryEntry struct {
	EntityID     string `json:"entity_id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	AreaID       string `json:"area_id"`
	DeviceID     string `json:"device_id"`
	Platform     string `json:"platform"`
	DisabledBy   string `json:"disabled_by"`
}

// IsDisabled reports whether the entity is disabled in Home Assistant.
func (e EntityRegistryEntry) IsDisabled() bool {
	return e.DisabledBy != ""
}

// GetEntityRegistry retrieves the entity registry.
func (c *Client) GetEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error) {
	var entries []EntityRegistryEntry
	if err := c.get(ctx, "/api/config/entity_registry/list", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// History retrieves state history for one entity over [start, end].
// The response is one series per entity; we request a single entity so
// the first series is returned.
func (c *Client) History(ctx context.Context, entityID string, start, end time.Time) ([]State, error) {
	path := fmt.Sprintf("/api/history/period/%s?filter_entity_id=%s&end_time=%s",
		start.UTC().Format(time.RFC3339),
		url.QueryEscape(entityID),
		url.QueryEscape(end.UTC().Format(time.RFC3339)),
	)

	var series [][]State
	if err := c.get(ctx, path, &series); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, nil
	}
	return series[0], nil
}

// CameraSnapshot fetches a still frame from a camera entity via the
// camera proxy. Returns the image bytes and their content type.
func (c *Client) CameraSnapshot(ctx context.Context, entityID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/camera_proxy/"+entityID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("camera proxy %s: %w", entityID, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, "", fmt.Errorf("camera proxy %s: API error %d: %s", entityID, resp.StatusCode, body)
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read snapshot: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return img, contentType, nil
}

// ConversationResult is the reply from Home Assistant's own
// conversation agent.
type ConversationResult struct {
	Speech         string
	ConversationID string
}

// Converse delegates an utterance to the host's built-in conversation
// agent (POST /api/conversation/process). Used as the fallback agent
// when orchestration fails.
func (c *Client) Converse(ctx context.Context, text, conversationID, language string) (*ConversationResult, error) {
	req := map[string]any{"text": text}
	if conversationID != "" {
		req["conversation_id"] = conversationID
	}
	if language != "" {
		req["language"] = language
	}

	var resp struct {
		ConversationID string `json:"conversation_id"`
		Response       struct {
			Speech struct {
				Plain struct {
					Speech string `json:"speech"`
				} `json:"plain"`
			} `json:"speech"`
		} `json:"response"`
	}
	if err := c.post(ctx, "/api/conversation/process", req, &resp); err != nil {
		return nil, err
	}

	return &ConversationResult{
		Speech:         resp.Response.Speech.Plain.Speech,
		ConversationID: resp.ConversationID,
	}, nil
}

// notFoundError marks a 404 from the HA API.
type notFoundError struct{ path string }

func (e *notFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.path)
}

func isNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

// get performs a GET request to the HA API.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusNotFound {
		return &notFoundError{path: path}
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// post performs a POST request to the HA API.
func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	var reqBody []byte
	if data != nil {
		var err error
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
