package trigger

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Email is one message reported by an EmailSource.
type Email struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// EmailSource lists messages received after since for the mailbox described by config.
type EmailSource interface {
	FetchEmails(ctx context.Context, config map[string]any, since time.Time) ([]Email, error)
}

// File is one file reported by a FileSource.
type File struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// FileSource lists files added after since at the location described by config.
type FileSource interface {
	ListFiles(ctx context.Context, config map[string]any, since time.Time) ([]File, error)
}

// ConditionSource evaluates the condition of a condition_met trigger. data is
// handed to the started execution when the condition holds.
type ConditionSource interface {
	Evaluate(ctx context.Context, config map[string]any) (bool, map[string]any, error)
}

// emailFilter matches case-insensitive substrings; empty parts match everything.
type emailFilter struct {
	sender  string
	subject string
	body    string
}

func newEmailFilter(config map[string]any) emailFilter {
	filters := mapValue(config, "filters")
	if filters == nil {
		filters = config
	}

	return emailFilter{
		sender:  strings.ToLower(stringValue(filters, "sender")),
		subject: strings.ToLower(stringValue(filters, "subject")),
		body:    strings.ToLower(stringValue(filters, "body")),
	}
}

func (f emailFilter) Match(email Email) bool {
	return strings.Contains(strings.ToLower(email.From), f.sender) &&
		strings.Contains(strings.ToLower(email.Subject), f.subject) &&
		strings.Contains(strings.ToLower(email.Body), f.body)
}

type fileFilter struct {
	pattern    *regexp.Regexp
	extensions []string
	minSize    int64
	maxSize    int64
}

func newFileFilter(config map[string]any) (fileFilter, error) {
	filters := mapValue(config, "filters")
	if filters == nil {
		filters = config
	}

	var f fileFilter

	if pattern := stringValue(filters, "filename_pattern"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fileFilter{}, fmt.Errorf("%w: invalid filename_pattern: %w", ErrInvalidConfig, err)
		}

		f.pattern = re
	}

	for _, ext := range listValue(filters, "extensions") {
		f.extensions = append(f.extensions, "."+strings.TrimPrefix(strings.ToLower(ext), "."))
	}

	f.minSize, _ = int64Value(filters, "min_size")
	f.maxSize, _ = int64Value(filters, "max_size")

	return f, nil
}

func (f fileFilter) Match(file File) bool {
	if f.pattern != nil && !f.pattern.MatchString(file.Name) {
		return false
	}

	if len(f.extensions) > 0 && !slices.Contains(f.extensions, strings.ToLower(filepath.Ext(file.Name))) {
		return false
	}

	if f.minSize > 0 && file.Size < f.minSize {
		return false
	}

	if f.maxSize > 0 && file.Size > f.maxSize {
		return false
	}

	return true
}
