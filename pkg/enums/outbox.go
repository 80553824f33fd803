package enums

// OutboxEventType names the audit events emitted by the core.
type OutboxEventType string

const (
	EventTransferCompleted OutboxEventType = "transfer.completed"
	EventDepositRequested  OutboxEventType = "deposit.requested"
	EventWithdrawRequested OutboxEventType = "withdraw.requested"
	EventRequestProcessed  OutboxEventType = "request.processed"
	EventBetPlaced         OutboxEventType = "bet.placed"
	EventResultSettled     OutboxEventType = "result.settled"
	EventResultReversed    OutboxEventType = "result.reversed"
	EventPayoutApproved    OutboxEventType = "payout.approved"
	EventPayoutRejected    OutboxEventType = "payout.rejected"
	EventPayoutConfirmed   OutboxEventType = "payout.double_confirmed"
	EventIntegrityAlert    OutboxEventType = "ledger.integrity_violation"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTransferCompleted,
	EventDepositRequested,
	EventWithdrawRequested,
	EventRequestProcessed,
	EventBetPlaced,
	EventResultSettled,
	EventResultReversed,
	EventPayoutApproved,
	EventPayoutRejected,
	EventPayoutConfirmed,
	EventIntegrityAlert,
}

// IsValid reports whether the value matches a known audit event type.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// OutboxAggregateType names the aggregate an audit event describes.
type OutboxAggregateType string

const (
	AggregateTransaction   OutboxAggregateType = "transaction"
	AggregateBet           OutboxAggregateType = "bet"
	AggregateResult        OutboxAggregateType = "result"
	AggregatePayoutRequest OutboxAggregateType = "payout_request"
	AggregateAccount       OutboxAggregateType = "account"
)
