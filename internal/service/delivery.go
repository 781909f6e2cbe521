package service

import (
	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/domain/registry"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (WebSocket/long-poll)
type Deliverer interface {
	Subscribe(recipientID string, meta registry.ConnectMetadata) registry.Connector
	Unsubscribe(conn registry.Connector)
	Stats() model.HubStats
}

type DeliveryService struct {
	hub registry.Hubber
}

func NewDeliveryService(hub registry.Hubber) *DeliveryService {
	return &DeliveryService{hub: hub}
}

// [SUBSCRIBE] Creates a live connection and makes it visible to the pushers.
func (s *DeliveryService) Subscribe(recipientID string, meta registry.ConnectMetadata) registry.Connector {
	conn := registry.NewConnector(recipientID, meta)
	s.hub.Register(conn)
	return conn
}

// [UNSUBSCRIBE] Closes the connection and prunes every dead entry of its recipient.
func (s *DeliveryService) Unsubscribe(conn registry.Connector) {
	conn.Close()
	s.hub.Unregister(conn.GetRecipientID(), conn.GetID())
	s.hub.Sweep(conn.GetRecipientID())
}

func (s *DeliveryService) Stats() model.HubStats {
	return s.hub.Stats()
}
