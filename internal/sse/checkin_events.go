package sse

import (
	"context"
	"sync"

	"ms-checkin/internal/models"
)

// CheckinEventEmitter fans check-in notices out to dashboard subscribers,
// grouped by event.
type CheckinEventEmitter struct {
	// key: eventID, value: subscriber channels
	eventClients     map[string][]chan models.CheckInNotice
	eventClientMutex sync.RWMutex
	bufferSize       int
}

// NewCheckinEventEmitter creates a new SSE event emitter for check-in notices
func NewCheckinEventEmitter() *CheckinEventEmitter {
	return &CheckinEventEmitter{
		eventClients: make(map[string][]chan models.CheckInNotice),
		bufferSize:   32,
	}
}

// SubscribeToEvent registers a subscriber until ctx is done, then closes
// the returned channel.
func (e *CheckinEventEmitter) SubscribeToEvent(ctx context.Context, eventID string) <-chan models.CheckInNotice {
	clientChan := make(chan models.CheckInNotice, e.bufferSize)

	e.eventClientMutex.Lock()
	e.eventClients[eventID] = append(e.eventClients[eventID], clientChan)
	e.eventClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeEventClient(eventID, clientChan)
	}()

	return clientChan
}

// Publish broadcasts a notice to the event's subscribers. Slow subscribers
// miss notices rather than stall the gate.
func (e *CheckinEventEmitter) Publish(notice models.CheckInNotice) {
	// sends happen under the read lock so a subscriber cannot be closed mid-send
	e.eventClientMutex.RLock()
	defer e.eventClientMutex.RUnlock()

	for _, clientChan := range e.eventClients[notice.EventID] {
		select {
		case clientChan <- notice:
		default:
		}
	}
}

func (e *CheckinEventEmitter) removeEventClient(eventID string, clientChan chan models.CheckInNotice) {
	e.eventClientMutex.Lock()
	defer e.eventClientMutex.Unlock()

	clients := e.eventClients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.eventClients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.eventClients[eventID]) == 0 {
		delete(e.eventClients, eventID)
	}
}

// GetEventClientCount returns the number of clients currently subscribed to an event
func (e *CheckinEventEmitter) GetEventClientCount(eventID string) int {
	e.eventClientMutex.RLock()
	defer e.eventClientMutex.RUnlock()
	return len(e.eventClients[eventID])
}
