// Package notify publishes pipeline events for downstream consumers.
// Delivery is at-least-once; consumers rely on reconciliation idempotence
// rather than deduplication here.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/assets"
)

const (
	eventSource = "galeria.video-quality-tool"

	detailTypeAssetGroupDiscovered = "AssetGroupDiscovered"
)

// Notifier publishes discovery events.
type Notifier interface {
	AssetGroupDiscovered(ctx context.Context, group assets.Group) error
}

type assetGroupEvent struct {
	EventID       string   `json:"event_id"`
	ProductID     string   `json:"product_id"`
	Category      string   `json:"category"`
	ReferenceURIs []string `json:"reference_uris"`
	ObservedAt    string   `json:"observed_at"`
}

// EventBridgeNotifier publishes events to an EventBridge bus. An empty bus
// name targets the account's default bus.
type EventBridgeNotifier struct {
	client  *eventbridge.Client
	busName string
}

var _ Notifier = (*EventBridgeNotifier)(nil)

// NewEventBridgeNotifier creates a notifier on the given bus.
func NewEventBridgeNotifier(client *eventbridge.Client, busName string) *EventBridgeNotifier {
	return &EventBridgeNotifier{client: client, busName: busName}
}

// AssetGroupDiscovered publishes one event for a newly inserted asset group.
func (n *EventBridgeNotifier) AssetGroupDiscovered(ctx context.Context, group assets.Group) error {
	eventID := uuid.NewString()
	detail, err := json.Marshal(assetGroupEvent{
		EventID:       eventID,
		ProductID:     group.ProductID,
		Category:      group.Category,
		ReferenceURIs: group.ReferenceURIs,
		ObservedAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal asset group event: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(eventSource),
		DetailType: aws.String(detailTypeAssetGroupDiscovered),
		Detail:     aws.String(string(detail)),
	}
	if n.busName != "" {
		entry.EventBusName = aws.String(n.busName)
	}

	result, err := n.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("product_id", group.ProductID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("product_id", group.ProductID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().
		Str("product_id", group.ProductID).
		Str("event_id", eventID).
		Msg("Asset group discovery event published")
	return nil
}
