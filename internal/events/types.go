package events

import (
	"equity-core/internal/model"
)

// Event enumerates order lifecycle topics inside the trading core.
type Event string

const (
	EventOrderSubmitted  Event = "order.submitted"
	EventOrderAccepted   Event = "order.accepted"
	EventOrderCancelled  Event = "order.cancelled"
	EventOrderDenied     Event = "order.denied"
	EventOrderRejected   Event = "order.rejected"
	EventProposalDropped Event = "order.proposal_dropped"
	EventPositionChange  Event = "position.changed"
)

// AllOrderEvents lists the topics a journal or metrics sink listens to.
var AllOrderEvents = []Event{
	EventOrderSubmitted,
	EventOrderAccepted,
	EventOrderCancelled,
	EventOrderDenied,
	EventOrderRejected,
	EventProposalDropped,
	EventPositionChange,
}

// OrderUpdate is published on every order topic.
type OrderUpdate struct {
	Order  model.Order `json:"order"`
	Reason string      `json:"reason,omitempty"`
}

// PositionUpdate is published after a fill changes a position.
type PositionUpdate struct {
	Position model.Position `json:"position"`
	OrderID  string         `json:"order_id"`
}
