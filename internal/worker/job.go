package worker

import (
	"github.com/Priya8975/notify-delivery/internal/domain"
)

// CallbackJob is one normalized provider callback travelling through the
// queue, the worker pool and the retry queue.
type CallbackJob struct {
	Callback domain.Callback `json:"callback"`
	Attempt  int             `json:"attempt"`
}
