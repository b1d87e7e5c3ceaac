package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

const (
	defaultConditionTimeout = 30 * time.Second
	maxConditionBodyBytes   = 1 << 20
)

// HTTPConditionSource fetches a JSON document from config.url and evaluates
// config.condition ({field, operator, value}) against it.
type HTTPConditionSource struct {
	Client *http.Client
}

func NewHTTPConditionSource() *HTTPConditionSource {
	return &HTTPConditionSource{Client: &http.Client{Timeout: defaultConditionTimeout}}
}

func (s *HTTPConditionSource) Evaluate(ctx context.Context, config map[string]any) (bool, map[string]any, error) {
	url := stringValue(config, "url")
	if url == "" {
		return false, nil, fmt.Errorf("%w: condition trigger needs a url", ErrInvalidConfig)
	}

	condition, ok := models.ConditionFromMap(config["condition"])
	if !ok {
		return false, nil, fmt.Errorf("%w: condition trigger needs a condition", ErrInvalidConfig)
	}

	method := strings.ToUpper(stringValue(config, "method"))
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	for key, value := range stringMap(config, "headers") {
		req.Header.Set(key, value)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("condition request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return false, nil, fmt.Errorf("condition request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConditionBodyBytes+1))
	if err != nil {
		return false, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if len(body) > maxConditionBodyBytes {
		return false, nil, fmt.Errorf("condition response exceeds %d bytes", maxConditionBodyBytes)
	}

	data := make(map[string]any)

	err = json.Unmarshal(body, &data)
	if err != nil {
		return false, nil, fmt.Errorf("condition response is not a JSON object: %w", err)
	}

	return condition.Evaluate(data), data, nil
}
