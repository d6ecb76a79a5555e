package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"facecheck/internal/queue"
)

// Control message types.
const (
	MsgStart = "session.start"
	MsgStop  = "session.stop"
)

type control struct {
	SessionID int64  `json:"session_id"`
	Source    string `json:"source,omitempty"`
}

// QueueController forwards control calls to the worker process.
type QueueController struct {
	q queue.Queue
}

// NewQueueController creates a controller publishing to q.
func NewQueueController(q queue.Queue) *QueueController {
	return &QueueController{q: q}
}

// StartSession implements Controller.
func (c *QueueController) StartSession(ctx context.Context, sessionID int64, source string) error {
	return c.publish(ctx, MsgStart, control{SessionID: sessionID, Source: source})
}

// StopSession implements Controller.
func (c *QueueController) StopSession(ctx context.Context, sessionID int64) error {
	return c.publish(ctx, MsgStop, control{SessionID: sessionID})
}

func (c *QueueController) publish(ctx context.Context, typ string, body control) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if err := c.q.Publish(ctx, queue.Message{Type: typ, Body: b}); err != nil {
		return fmt.Errorf("publish %s for session %d: %w", typ, body.SessionID, err)
	}
	return nil
}

// Serve applies control messages to ctrl until msgs is closed.
// A start without a source uses defaultSource.
func Serve(ctx context.Context, msgs <-chan queue.Message, ctrl Controller, defaultSource string) {
	for msg := range msgs {
		var body control
		if err := json.Unmarshal(msg.Body, &body); err != nil || body.SessionID == 0 {
			log.Printf("control: dropping malformed %q message: %v", msg.Type, err)
			continue
		}
		var err error
		switch msg.Type {
		case MsgStart:
			src := body.Source
			if src == "" {
				src = defaultSource
			}
			err = ctrl.StartSession(ctx, body.SessionID, src)
		case MsgStop:
			err = ctrl.StopSession(ctx, body.SessionID)
		default:
			log.Printf("control: unknown message type %q", msg.Type)
			continue
		}
		if err != nil {
			log.Printf("control: %s session %d: %v", msg.Type, body.SessionID, err)
		}
	}
}
