// Package classify maps a raw failure from anywhere in the sync pipeline to
// a small, closed taxonomy the rest of the system can reason about: is it
// worth retrying, what should a human see, should the full trace be logged.
package classify

import (
	"errors"
	"fmt"
	"strings"
)

// Category is the closed set of failure kinds the pipeline distinguishes.
type Category string

const (
	Network        Category = "network"
	Permission     Category = "permission"
	Parsing        Category = "parsing"
	Embedding      Category = "embedding"
	Database       Category = "database"
	CircuitBreaker Category = "circuit_breaker"
	Unknown        Category = "unknown"
)

// keywordTable maps substrings found in an error's message (or a sentinel's
// type) to the category they indicate. Checked in order; first match wins.
var keywordTable = []struct {
	category Category
	keywords []string
}{
	{CircuitBreaker, []string{"circuit open", "circuit breaker"}},
	{Network, []string{"connection refused", "timeout", "no such host", "eof", "dial tcp", "network"}},
	{Permission, []string{"permission denied", "access denied", "forbidden", "unauthorized"}},
	{Parsing, []string{"parse", "unmarshal", "invalid syntax", "malformed"}},
	{Embedding, []string{"embedding", "dimension mismatch", "model not found", "rate limit", "too many requests", "429"}},
	{Database, []string{"database", "sqlite", "constraint failed", "no such table", "locked"}},
}

// retryable holds the categories ErrorClassifier treats as worth retrying.
var retryable = map[Category]bool{
	Network:   true,
	Embedding: true,
	Database:  true,
}

// suppressTrace holds categories whose full trace is not worth logging,
// because the message itself is already the useful signal.
var suppressTrace = map[Category]bool{
	Network:        true,
	CircuitBreaker: true,
}

// ErrCircuitOpen is the distinguished, non-retryable sentinel CircuitBreaker
// returns when it rejects a call outright.
var ErrCircuitOpen = errors.New("circuit open")

// Classify maps err to its category by matching its message (and, for
// sentinel errors, errors.Is) against the keyword table.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, ErrCircuitOpen) {
		return CircuitBreaker
	}

	msg := strings.ToLower(err.Error())
	for _, row := range keywordTable {
		for _, kw := range row.keywords {
			if strings.Contains(msg, kw) {
				return row.category
			}
		}
	}
	return Unknown
}

// IsRetryable reports whether a failure of this category is worth retrying.
func IsRetryable(c Category) bool {
	return retryable[c]
}

// LogFullTrace reports whether the full error trace is worth logging for
// this category, as opposed to just the user-facing message.
func LogFullTrace(c Category) bool {
	return !suppressTrace[c]
}

// UserMessage renders a short, human-facing message for a classified error.
func UserMessage(c Category, err error) string {
	switch c {
	case Network:
		return "a network error occurred while reaching an external service"
	case Permission:
		return "permission was denied for a required file or resource"
	case Parsing:
		return "a file or response could not be parsed"
	case Embedding:
		return "the embedding provider failed to process this request"
	case Database:
		return "a storage error occurred"
	case CircuitBreaker:
		return "this project is temporarily paused after repeated failures"
	default:
		if err != nil {
			return err.Error()
		}
		return "an unknown error occurred"
	}
}

// Classified is the single shared result type handle_sync_error produces,
// used throughout the pipeline instead of ad-hoc error wrapping.
type Classified struct {
	Category    Category `json:"category"`
	Message     string   `json:"message"`
	UserMessage string   `json:"user_message"`
	Retryable   bool     `json:"retryable"`
	Context     string   `json:"context,omitempty"`
}

// HandleSyncError classifies err in the given context string and returns the
// result the caller should record and, per LogFullTrace, log.
func HandleSyncError(err error, context string) Classified {
	category := Classify(err)
	return Classified{
		Category:    category,
		Message:     err.Error(),
		UserMessage: UserMessage(category, err),
		Retryable:   IsRetryable(category),
		Context:     context,
	}
}

func (c Classified) Error() string {
	if c.Context != "" {
		return fmt.Sprintf("%s: %s", c.Context, c.Message)
	}
	return c.Message
}
