package worker

import (
	"context"

	"github.com/Priya8975/notify-delivery/internal/mq"
)

// Publisher is the broker side of the callback queue.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// BrokerSink queues callback jobs on the message broker.
type BrokerSink struct {
	publisher Publisher
}

func NewBrokerSink(p Publisher) *BrokerSink {
	return &BrokerSink{publisher: p}
}

func (s *BrokerSink) Submit(ctx context.Context, job CallbackJob) error {
	return s.publisher.Publish(ctx, mq.CallbackRoutingKey(job.Callback.Provider), job)
}
