// Package publisher defines the notification contract used to announce findings.
package publisher

import "context"

// Publisher pushes a JSON-encodable payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
