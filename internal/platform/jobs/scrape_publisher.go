// Package jobs publishes background work to Pub/Sub. The only job today is a
// re-scrape request emitted when a query resolves below the cache-hit
// threshold, so fresher retailer data can be gathered out of band.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// ScrapeJobMessage is the payload published for a scrape request.
type ScrapeJobMessage struct {
	JobID       string    `json:"jobId"`
	Query       string    `json:"query"`
	RegionCode  string    `json:"regionCode"`
	RequestedAt time.Time `json:"requestedAt"`
}

// PubSubScrapePublisher publishes scrape jobs to a Pub/Sub topic.
type PubSubScrapePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubScrapePublisher constructs a Pub/Sub backed scrape job publisher.
func NewPubSubScrapePublisher(topic *pubsub.Topic) (*PubSubScrapePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub scrape publisher: topic is required")
	}
	return &PubSubScrapePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishScrapeJob enqueues a scrape job message on the configured topic and
// returns the Pub/Sub message ID.
func (p *PubSubScrapePublisher) PublishScrapeJob(ctx context.Context, message ScrapeJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub scrape publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal scrape job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", message.JobID)
	setAttr(attrs, "regionCode", message.RegionCode)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish scrape job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
