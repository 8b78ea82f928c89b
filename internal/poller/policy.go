// Package poller implements the client side of task status polling: an
// adaptive interval per category, a hard watch ceiling, and tolerance for
// transient fetch failures.
package poller

import (
	"strings"
	"time"

	"github.com/makeasinger/mediagen/internal/model"
)

// Interval returns the wait before the next poll of a task that has been
// watched for elapsed.
func Interval(elapsed time.Duration, cat model.Category) time.Duration {
	firstMinute := elapsed < time.Minute
	if cat == model.CategoryVideo {
		if firstMinute {
			return 30 * time.Second
		}
		return 60 * time.Second
	}
	if firstMinute {
		return 10 * time.Second
	}
	return 30 * time.Second
}

// Ceiling is the longest a client watches a task before giving up locally.
func Ceiling(cat model.Category) time.Duration {
	if cat == model.CategoryVideo {
		return 15 * time.Minute
	}
	return 4 * time.Minute
}

func ShouldContinue(elapsed time.Duration, cat model.Category) bool {
	return elapsed < Ceiling(cat)
}

var transientKeywords = []string{
	"socket",
	"network",
	"fetch",
	"timeout",
	"econnreset",
	"etimedout",
	"connection",
	"server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"status: 5",
	"invalid response",
	"unexpected token",
	"json",
	"missing video payload",
	"missing image payload",
	"missing content",
	"payload missing",
	"request failed: 400",
	"status: 400",
	"generation process begins",
	"still processing",
	"heavy_load",
	"heavy load",
	"under heavy load",
	"try again later",
	"please try again",
}

// IsTransient reports whether a fetch failure is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// FriendlyMessage rewrites a raw failure message for display.
func FriendlyMessage(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "generation process begins", "missing video payload", "missing image payload"):
		return "Server timeout. Please try again later."
	case containsAny(lower, "heavy_load", "heavy load", "try again later"):
		return "Server is busy. Please try again later."
	case containsAny(lower, "status: 400", "request failed: 400"):
		return "Request failed. Please retry."
	case containsAny(lower, "network", "socket", "timeout", "connection"):
		return "Network error. Please check your connection."
	}
	return msg
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
