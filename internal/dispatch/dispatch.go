// Package dispatch adapts the transport clients to the payload shape the
// job executor delivers.
package dispatch

import (
	"github.com/haneulk/tarot-timer/internal/message"
	"github.com/haneulk/tarot-timer/pkg/email"
	"github.com/haneulk/tarot-timer/pkg/push"
)

// Push delivers payloads over Expo push.
type Push struct {
	client *push.Client
}

func NewPush(client *push.Client) *Push {
	return &Push{client: client}
}

func (d *Push) Send(to string, p message.Payload) error {
	return d.client.Send(to, push.Notification{
		Title: p.Title,
		Body:  p.Body,
		Data:  p.Data,
	})
}

// Email delivers payloads over SMTP, title as subject.
type Email struct {
	client *email.Client
}

func NewEmail(client *email.Client) *Email {
	return &Email{client: client}
}

func (d *Email) Send(to string, p message.Payload) error {
	return d.client.Send(to, p.Title, p.Body)
}
