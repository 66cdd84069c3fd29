package sms

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Message is one outbound SMS.
type Message struct {
	To       string
	Body     string
	SchoolID int64
}

type Result struct {
	Success   bool
	MessageID string
	Error     string
}

// Sender delivers messages to a gateway. The console sender is used in
// development and tests; a real gateway implements the same interface.
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

type ConsoleSender struct {
	SenderID string
}

func NewConsoleSender(senderID string) *ConsoleSender {
	return &ConsoleSender{SenderID: senderID}
}

func (s *ConsoleSender) Send(ctx context.Context, msg Message) Result {
	log.Printf("[sms] from=%s to=%s school=%d body=%q", s.SenderID, msg.To, msg.SchoolID, msg.Body)
	return Result{
		Success:   true,
		MessageID: fmt.Sprintf("console-%d", time.Now().UnixNano()),
	}
}

// SendBulk delivers each message independently; one failure does not stop
// the rest.
func SendBulk(ctx context.Context, sender Sender, msgs []Message) []Result {
	out := make([]Result, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, sender.Send(ctx, m))
	}
	return out
}
