package search

import (
	"context"
	"fmt"
	"log/slog"

	"chat-relay/domain/event"
)

// Sink feeds the index from domain events. It runs behind the fanout worker,
// never on the connection delivery path, so indexing latency cannot stall a
// broadcast.
type Sink struct {
	index *Index
	log   *slog.Logger
}

func NewSink(index *Index, log *slog.Logger) Sink {
	return Sink{index: index, log: log}
}

func (s Sink) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageSent:
		return s.index.IndexMessage(evt.Message)
	case event.MessageEdited:
		return s.index.IndexMessage(evt.Message)
	case event.MessageDeleted:
		return s.index.DeleteMessage(evt.MessageID)
	default:
		s.log.Debug(fmt.Sprintf("Ignored event : %s", e.Name()))
		return nil
	}
}
