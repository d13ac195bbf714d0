package client

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoReply is returned when no extraction rule matches a response.
var ErrNoReply = errors.New("no reply text found in response")

// DefaultReplyPaths lists where a reply may sit in the response shapes the
// service and its workflow front ends have produced, most specific last.
var DefaultReplyPaths = []string{
	"message",
	"response_message",
	"json.response_message",
	"json.message",
	"text",
	"0.json.response_message",
	"0.json.message",
	"0.json.text",
	"0.response_message",
	"0.message",
}

// ReplyExtractor pulls the reply text out of an arbitrary JSON response using
// an ordered list of gjson paths. The first path holding a non-empty string
// wins.
type ReplyExtractor struct {
	paths []string
}

// NewReplyExtractor creates an extractor. With no paths it uses
// DefaultReplyPaths.
func NewReplyExtractor(paths ...string) *ReplyExtractor {
	if len(paths) == 0 {
		paths = DefaultReplyPaths
	}
	return &ReplyExtractor{paths: append([]string(nil), paths...)}
}

// Extract returns the reply text in body. A body wrapped in a fenced json code
// block is unwrapped first.
func (e *ReplyExtractor) Extract(body []byte) (string, error) {
	doc := unwrapCodeBlock(string(body))
	if !gjson.Valid(doc) {
		return "", errors.New("response is not valid JSON")
	}

	for _, path := range e.paths {
		result := gjson.Get(doc, path)
		if result.Type != gjson.String {
			continue
		}
		if text := result.String(); text != "" {
			return text, nil
		}
	}
	return "", ErrNoReply
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")

func unwrapCodeBlock(s string) string {
	if matches := codeBlockPattern.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return strings.TrimSpace(s)
}
