// Package search maintains a full-text index over message bodies. It is fed
// asynchronously from domain events and serviced by the searchMessages query;
// the message log in badger stays the source of truth.
package search

import (
	"context"
	"time"

	"chat-relay/domain"

	"github.com/blugelabs/bluge"
)

type Hit struct {
	MessageID string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Text      string    `json:"message"`
	SenderID  string    `json:"senderId"`
	SentAt    time.Time `json:"sentAt"`
}

type Index struct {
	writer *bluge.Writer
}

func NewIndex(path string) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	return &Index{writer: writer}, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}

// IndexMessage inserts or reindexes one message document. Update semantics
// make append and edit the same operation.
func (i *Index) IndexMessage(message domain.Message) error {
	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewTextField("text", message.Text).StoreValue()).
		AddField(bluge.NewKeywordField("room", message.RoomID).StoreValue()).
		AddField(bluge.NewKeywordField("sender", message.SenderID).StoreValue()).
		AddField(bluge.NewDateTimeField("sentAt", message.SentAt).StoreValue())
	return i.writer.Update(doc.ID(), doc)
}

func (i *Index) DeleteMessage(messageID string) error {
	return i.writer.Delete(bluge.Identifier(messageID))
}

// Search runs a match query over message text, scoped to one room.
func (i *Index) Search(ctx context.Context, roomID domain.RoomID, query string, limit int) ([]Hit, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(query).SetField("text")).
		AddMust(bluge.NewTermQuery(roomID).SetField("room"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case "text":
				hit.Text = string(value)
			case "room":
				hit.RoomID = string(value)
			case "sender":
				hit.SenderID = string(value)
			case "sentAt":
				if t, err := bluge.DecodeDateTime(value); err == nil {
					hit.SentAt = t
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
