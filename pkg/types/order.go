package types

import (
	"strings"
	"time"
)

// OrderStatus is the settlement state of a cross-chain order
type OrderStatus string

const (
	OrderPendingDeposit OrderStatus = "pending_deposit"
	OrderInitiated      OrderStatus = "initiated"
	OrderProcessing     OrderStatus = "processing"
	OrderCompleted      OrderStatus = "completed"
	OrderRefunded       OrderStatus = "refunded"
	OrderExpired        OrderStatus = "expired"
	OrderFailed         OrderStatus = "failed"
)

// IsTerminal returns true once polling should stop
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderRefunded
}

// ParseOrderStatus maps provider vocabularies onto OrderStatus.
// Unknown values fall back to processing so that the order keeps being polled.
func ParseOrderStatus(raw string) OrderStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")

	switch s {
	case "pending_deposit", "awaiting_deposit", "waiting_deposit", "incomplete_deposit", "pending", "created", "known_deposit_tx":
		return OrderPendingDeposit
	case "initiated", "deposited", "submitted", "submitted_onchain", "source_initiated":
		return OrderInitiated
	case "processing", "in_progress", "bridging", "redeeming":
		return OrderProcessing
	case "completed", "complete", "success", "succeeded", "redeemed", "fulfilled":
		return OrderCompleted
	case "refunded", "refund_completed":
		return OrderRefunded
	case "expired", "timeout", "timed_out":
		return OrderExpired
	case "failed", "error", "cancelled", "canceled":
		return OrderFailed
	default:
		return OrderProcessing
	}
}

// BridgeOrder is the cross-chain settlement record tracked until a terminal state
type BridgeOrder struct {
	OrderID             string      `json:"order_id"`
	Provider            string      `json:"provider,omitempty"`
	SourceChain         string      `json:"source_chain"`
	SourceToken         string      `json:"source_token"`
	DestChain           string      `json:"dest_chain"`
	DestToken           string      `json:"dest_token,omitempty"`
	DepositAddress      string      `json:"deposit_address,omitempty"`
	DepositAmount       string      `json:"deposit_amount,omitempty"`
	Status              OrderStatus `json:"status"`
	SourceInitiateTx    string      `json:"source_initiate_tx,omitempty"`
	DestinationInitiate string      `json:"destination_initiate_tx,omitempty"`
	DestinationRedeemTx string      `json:"destination_redeem_tx,omitempty"`
	RefundTx            string      `json:"refund_tx,omitempty"`
	InstantRefund       string      `json:"instant_refund,omitempty"`
	DepositTx           string      `json:"deposit_tx,omitempty"`
	LastUpdated         time.Time   `json:"last_updated"`
}

// FundsFirst reports whether the user must send funds to a deposit address
func (o *BridgeOrder) FundsFirst() bool {
	return o != nil && strings.TrimSpace(o.DepositAddress) != ""
}

// RefundEligible reports whether a manual refund claim should be offered
func (o *BridgeOrder) RefundEligible() bool {
	if o == nil || o.Status.IsTerminal() {
		return false
	}
	return o.Status == OrderExpired || o.Status == OrderFailed || strings.TrimSpace(o.InstantRefund) != ""
}
