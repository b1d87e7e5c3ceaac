// Package template renders text/template expressions found in step configuration.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

// NeedsTemplating reports whether input holds a template action.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderWithContext renders input against the step input (.data), the
// accumulated execution data (.context) and the initiator.
func RenderWithContext(input string, data map[string]any, executionCtx *models.ExecutionContext) (any, error) {
	return Render(input, templateData(data, executionCtx))
}

// RenderValues renders every templated string in values, descending into
// nested maps and lists. Other values are copied as is.
func RenderValues(values map[string]any, data map[string]any, executionCtx *models.ExecutionContext) (map[string]any, error) {
	scope := templateData(data, executionCtx)

	rendered, err := renderValue(values, scope)
	if err != nil {
		return nil, err
	}

	out, _ := rendered.(map[string]any)

	return out, nil
}

func renderValue(value any, scope map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderValue(item, scope)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, scope)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

func templateData(data map[string]any, executionCtx *models.ExecutionContext) map[string]any {
	scope := map[string]any{
		"data":      data,
		"context":   map[string]any{},
		"initiator": map[string]any{},
	}

	if executionCtx != nil {
		scope["context"] = executionCtx.Data
		scope["initiator"] = map[string]any{
			"type":     string(executionCtx.Initiator.Type),
			"id":       executionCtx.Initiator.ID,
			"metadata": executionCtx.Initiator.Metadata,
		}
	}

	return scope
}

// Render executes templateStr against data. Output that reads as JSON, a number
// or a boolean is decoded into that type.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("step").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
