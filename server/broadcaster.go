package server

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"nostrfeed/models"
)

// Broadcaster fans feed status changes out to the SSE clients of a reader
type Broadcaster struct {
	sync.RWMutex
	statusClients map[string]statusClient
}

type statusClient struct {
	reader string
	ch     chan models.FeedStatus
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		statusClients: make(map[string]statusClient),
	}
}

// BroadcastStatus sends status to the clients of reader without blocking on slow ones
func (b *Broadcaster) BroadcastStatus(reader string, status models.FeedStatus) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.statusClients {
		if client.reader != reader {
			continue
		}
		select {
		case client.ch <- status:
		default:
			log.Warnf("Client channel full, skipping status for client: %v", id)
		}
	}
}

func (b *Broadcaster) AddClient(key, reader string, ch chan models.FeedStatus) {
	b.Lock()
	defer b.Unlock()
	b.statusClients[key] = statusClient{reader: reader, ch: ch}
	log.WithFields(log.Fields{
		"key":    key,
		"reader": reader,
		"count":  len(b.statusClients),
	}).Info("Adding client to broadcaster")
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.statusClients[key]; ok {
		close(client.ch)
		delete(b.statusClients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.statusClients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Clients() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.statusClients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.statusClients {
		close(client.ch)
		delete(b.statusClients, key)
	}
}
