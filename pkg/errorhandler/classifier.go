// Package errorhandler classifies step failures, decides retries and handles failed executions.
package errorhandler

import (
	"context"
	"errors"
	"strings"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

// TypedError is implemented by errors that already know their kind.
type TypedError interface {
	error
	ErrorType() models.ErrorType
}

type messageRule struct {
	errType  models.ErrorType
	keywords []string
}

// Order matters: the first matching rule wins.
var messageRules = []messageRule{
	{models.ErrorTypeTimeout, []string{"timeout", "timed out"}},
	{models.ErrorTypeValidation, []string{"validation", "invalid"}},
	{models.ErrorTypeExternalAPI, []string{"api", "request failed", "network"}},
	{models.ErrorTypeUser, []string{"permission", "unauthorized", "forbidden"}},
	{models.ErrorTypeBusinessRule, []string{"business", "rule", "policy"}},
}

// Classify turns any error into a classified WorkflowError. It returns nil for a nil error.
func Classify(err error) *models.WorkflowError {
	if err == nil {
		return nil
	}

	var werr *models.WorkflowError
	if errors.As(err, &werr) && werr != nil {
		return werr
	}

	var typed TypedError
	if errors.As(err, &typed) && typed.ErrorType().Valid() {
		return models.NewWorkflowError(typed.ErrorType(), err.Error(), nil)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewWorkflowError(models.ErrorTypeTimeout, err.Error(), nil)
	}

	return models.NewWorkflowError(ClassifyMessage(err.Error()), err.Error(), nil)
}

// ClassifyMessage matches a free-form message against the keyword rules.
func ClassifyMessage(message string) models.ErrorType {
	lower := strings.ToLower(message)

	for _, rule := range messageRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.errType
			}
		}
	}

	return models.ErrorTypeSystem
}
