package notify

import (
	"github.com/google/uuid"

	"github.com/safedeal/escrow-backend/internal/logger"
)

// События движка, публикуемые в sink.
const (
	EventProposalCreated    = "proposal.created"
	EventProposalAccepted   = "proposal.accepted"
	EventProposalDeclined   = "proposal.declined"
	EventDealFunded         = "deal.funded"
	EventMilestoneSubmitted = "milestone.submitted"
	EventMilestoneApproved  = "milestone.approved"
	EventMilestoneRejected  = "milestone.rejected"
	EventCountdownCancelled = "countdown.cancelled"
	EventDisputeOpened      = "dispute.opened"
	EventDisputeResolved    = "dispute.resolved"
	EventDealCompleted      = "deal.completed"
)

// Sink принимает события движка в режиме fire-and-forget.
// Доставка уведомлений — забота внешнего сервиса; движок никогда
// не блокируется и не падает из-за sink'а.
type Sink interface {
	Emit(userID uuid.UUID, event string, data any)
}

// LogSink пишет события в лог. Используется в тестах и как fallback,
// когда WebSocket-хаб не поднят.
type LogSink struct{}

func (LogSink) Emit(userID uuid.UUID, event string, data any) {
	logger.Log.WithField("user_id", userID).WithField("event", event).Debug("notify: событие")
}
