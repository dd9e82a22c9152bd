package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ResearchIdentifier names the simulated provider used by research-mode services.
const ResearchIdentifier = "research"

const researchHistory = 100

// Research simulates a send without contacting anyone.
type Research struct {
	mu   sync.Mutex
	sent []ResearchMessage
}

type ResearchMessage struct {
	Recipient string
	Content   Content
	Reference string
}

func NewResearch() *Research {
	return &Research{}
}

func (r *Research) Name() string {
	return ResearchIdentifier
}

func (r *Research) Send(_ context.Context, recipient string, content Content) (string, error) {
	ref := uuid.NewString()

	r.mu.Lock()
	r.sent = append(r.sent, ResearchMessage{Recipient: recipient, Content: content, Reference: ref})
	if len(r.sent) > researchHistory {
		r.sent = r.sent[len(r.sent)-researchHistory:]
	}
	r.mu.Unlock()

	return ref, nil
}

// Sent returns the most recent simulated messages.
func (r *Research) Sent() []ResearchMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResearchMessage(nil), r.sent...)
}
