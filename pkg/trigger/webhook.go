package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

type AuthType string

const (
	AuthNone      AuthType = "none"
	AuthBearer    AuthType = "bearer"
	AuthAPIKey    AuthType = "api_key"
	AuthBasic     AuthType = "basic"
	AuthSignature AuthType = "signature"

	defaultAPIKeyHeader    = "X-API-Key"
	defaultSignatureHeader = "X-Signature"
)

// WebhookNotFound is the result message for calls to an unknown or non-webhook trigger.
const WebhookNotFound = "webhook trigger not found"

// WebhookRequest is an inbound call to a webhook trigger.
type WebhookRequest struct {
	TriggerID string            `json:"trigger_id"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      []byte            `json:"body"`
}

// Header looks a header up case-insensitively.
func (r WebhookRequest) Header(name string) string {
	if value, ok := r.Headers[name]; ok {
		return value
	}

	canonical := http.CanonicalHeaderKey(name)

	for key, value := range r.Headers {
		if http.CanonicalHeaderKey(key) == canonical {
			return value
		}
	}

	return ""
}

type WebhookResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// ProcessWebhook validates an inbound call against the trigger config and fires
// the trigger. Rejected calls create no TriggerEvent. The result is returned
// once the execution is created, not when it finishes.
func (e *Engine) ProcessWebhook(ctx context.Context, req WebhookRequest) WebhookResult {
	m := e.monitor(req.TriggerID)
	if m == nil {
		return WebhookResult{Message: WebhookNotFound}
	}

	trigger := m.snapshot()
	if trigger.Type != models.TriggerTypeWebhook || !e.storedActive(ctx, trigger.ID) {
		return WebhookResult{Message: WebhookNotFound}
	}

	logger := e.logger.With("trigger_id", trigger.ID)

	err := validateWebhook(trigger.Config, req)
	if err != nil {
		logger.WarnContext(ctx, "Webhook rejected", "error", err)

		return WebhookResult{Message: err.Error()}
	}

	executionID, err := e.Fire(ctx, &trigger, "webhook", webhookData(req))
	if err != nil {
		return WebhookResult{Message: fmt.Sprintf("failed to start workflow: %v", err)}
	}

	return WebhookResult{Success: true, Message: "workflow started", ExecutionID: executionID}
}

func validateWebhook(config map[string]any, req WebhookRequest) error {
	method := stringValue(config, "method")
	if method == "" {
		method = http.MethodPost
	}

	if !strings.EqualFold(method, req.Method) {
		return fmt.Errorf("method %s not allowed", req.Method)
	}

	err := authenticate(mapValue(config, "authentication"), req)
	if err != nil {
		return err
	}

	for name, expected := range stringMap(config, "required_headers") {
		if req.Header(name) != expected {
			return fmt.Errorf("required header %s missing or mismatched", name)
		}
	}

	if schema := mapValue(config, "schema"); len(schema) > 0 {
		err = validateSchema(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(req.Body))
		if err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	return nil
}

func authenticate(auth map[string]any, req WebhookRequest) error {
	authType := AuthType(strings.ToLower(stringValue(auth, "type")))

	switch authType {
	case "", AuthNone:
		return nil
	case AuthBearer:
		token := stringValue(auth, "token")
		if token == "" || !secureEqual(req.Header("Authorization"), "Bearer "+token) {
			return errors.New("invalid bearer token")
		}
	case AuthAPIKey:
		header := stringValue(auth, "header")
		if header == "" {
			header = defaultAPIKeyHeader
		}

		key := stringValue(auth, "key")
		if key == "" || !secureEqual(req.Header(header), key) {
			return errors.New("invalid api key")
		}
	case AuthBasic:
		username := stringValue(auth, "username")
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + stringValue(auth, "password")))

		if username == "" || !secureEqual(req.Header("Authorization"), "Basic "+credentials) {
			return errors.New("invalid basic credentials")
		}
	case AuthSignature:
		secret := stringValue(auth, "secret")
		if secret == "" {
			return errors.New("signature secret not configured")
		}

		header := stringValue(auth, "header")
		if header == "" {
			header = defaultSignatureHeader
		}

		signature := req.Header(header)
		if !strings.HasPrefix(signature, "sha256=") {
			signature = "sha256=" + signature
		}

		if !secureEqual(strings.ToLower(signature), SignPayload(secret, req.Body)) {
			return errors.New("invalid signature")
		}
	default:
		return fmt.Errorf("%w: unknown authentication type %q", ErrInvalidConfig, authType)
	}

	return nil
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SignPayload returns the signature header value a signature-authenticated webhook expects.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookData(req WebhookRequest) map[string]any {
	headers := make(map[string]any, len(req.Headers))
	for key, value := range req.Headers {
		headers[http.CanonicalHeaderKey(key)] = value
	}

	data := map[string]any{
		"method":  strings.ToUpper(req.Method),
		"headers": headers,
	}

	if len(req.Body) == 0 {
		return data
	}

	var body any

	err := json.Unmarshal(req.Body, &body)
	if err != nil {
		data["body"] = string(req.Body)
	} else {
		data["body"] = body
	}

	return data
}
