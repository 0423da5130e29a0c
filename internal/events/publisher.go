// Package events classifies store writes and broadcasts them as station
// change events.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
)

// Channels the station events are published on.
const (
	ChannelStationInsert = "events.station_insert"
	ChannelStationUpdate = "events.station_update"
)

// Receipt is what the transport reports for a delivered message.
type Receipt struct {
	Channel   string `json:"channel"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// Transport delivers an encoded message to a named channel.
type Transport interface {
	Publish(ctx context.Context, channel, key string, payload []byte) (Receipt, error)
}

// PublishUnavailableError means the event could not be delivered. The store
// write it describes has already happened and is not undone.
type PublishUnavailableError struct {
	Channel string
	Key     models.StationKey
	Err     error
}

func (e *PublishUnavailableError) Error() string {
	return fmt.Sprintf("publish %s for station %s: %v", e.Channel, e.Key, e.Err)
}

func (e *PublishUnavailableError) Unwrap() error { return e.Err }

// Classify decides the event type purely from the store outcome.
func Classify(outcome models.UpsertOutcome) models.EventType {
	if outcome.Inserted() {
		return models.EventInsert
	}
	return models.EventUpdate
}

// ChannelFor returns the channel an event type is published on.
func ChannelFor(t models.EventType) string {
	if t == models.EventInsert {
		return ChannelStationInsert
	}
	return ChannelStationUpdate
}

// Publisher builds station events and hands them to a Transport.
type Publisher struct {
	transport Transport
}

// NewPublisher creates a Publisher on top of transport.
func NewPublisher(transport Transport) *Publisher {
	return &Publisher{transport: transport}
}

// Publish classifies the write, encodes the envelope and sends it keyed by
// the station key, so all events of one station land on one partition.
func (p *Publisher) Publish(ctx context.Context, outcome models.UpsertOutcome, doc models.StationDocument) (Receipt, error) {
	ev := models.StationEvent{
		Type:   Classify(outcome),
		Meta:   outcome,
		Record: doc,
	}
	channel := ChannelFor(ev.Type)

	payload, err := json.Marshal(ev)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	receipt, err := p.transport.Publish(ctx, channel, string(doc.Key), payload)
	if err != nil {
		return Receipt{}, &PublishUnavailableError{Channel: channel, Key: doc.Key, Err: err}
	}
	return receipt, nil
}
