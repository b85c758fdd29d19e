package retry

import (
	"encoding/json"
	"fmt"

	"github.com/deusflow/sportswire/internal/news"
)

// OpKind names the external call an operation performs.
type OpKind string

const (
	KindFetch   OpKind = "fetch"
	KindRewrite OpKind = "rewrite"
	KindNotify  OpKind = "notify"
	KindUpload  OpKind = "upload"
)

// Operation is one retryable external call. The concrete types below are
// the only implementations; a Performer switches on them.
type Operation interface {
	Kind() OpKind
}

// FetchOp pulls one feed.
type FetchOp struct {
	Source news.Source `json:"source"`
}

// RewriteOp produces the stylistic variants of one story.
type RewriteOp struct {
	StoryID  string   `json:"story_id"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Styles   []string `json:"styles"`
	Language string   `json:"language,omitempty"`
}

// NotifyOp delivers one message to the configured sinks.
type NotifyOp struct {
	Channel  string   `json:"channel"`
	StoryIDs []string `json:"story_ids,omitempty"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	URL      string   `json:"url,omitempty"`
}

// UploadOp submits a video generation job for one story.
type UploadOp struct {
	StoryID string `json:"story_id"`
	Title   string `json:"title"`
	Script  string `json:"script"`
}

func (FetchOp) Kind() OpKind   { return KindFetch }
func (RewriteOp) Kind() OpKind { return KindRewrite }
func (NotifyOp) Kind() OpKind  { return KindNotify }
func (UploadOp) Kind() OpKind  { return KindUpload }

func decodeOp(kind OpKind, payload json.RawMessage) (Operation, error) {
	switch kind {
	case KindFetch:
		var op FetchOp
		err := json.Unmarshal(payload, &op)
		return op, err
	case KindRewrite:
		var op RewriteOp
		err := json.Unmarshal(payload, &op)
		return op, err
	case KindNotify:
		var op NotifyOp
		err := json.Unmarshal(payload, &op)
		return op, err
	case KindUpload:
		var op UploadOp
		err := json.Unmarshal(payload, &op)
		return op, err
	default:
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
}
