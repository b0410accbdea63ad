package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"feedrelay/internal/httpclient"
)

// StatusError is a webhook response other than 200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d", e.Code)
}

// Poster delivers one message.
type Poster interface {
	Post(ctx context.Context, content string) error
}

// Webhook posts {"Content": ...} to a chat webhook URL.
type Webhook struct {
	client *httpclient.Client
	url    string
}

func NewWebhook(url string, timeout time.Duration, userAgent string) *Webhook {
	return &Webhook{client: httpclient.New(timeout, userAgent), url: url}
}

type webhookBody struct {
	Content string `json:"Content"`
}

// Post succeeds only on HTTP 200.
func (w *Webhook) Post(ctx context.Context, content string) error {
	status, err := w.client.PostJSON(ctx, w.url, webhookBody{Content: content})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &StatusError{Code: status}
	}
	return nil
}
