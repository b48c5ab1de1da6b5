package settlement

import (
	"strings"

	"github.com/tidwall/gjson"

	"tradeflow/pkg/types"
)

// envelopes are the wrappers order payloads arrive in, tried in order
var envelopes = []string{"", "data.", "result.", "data.result.", "order.", "data.order."}

func lookup(doc gjson.Result, paths ...string) string {
	for _, env := range envelopes {
		for _, p := range paths {
			if v := doc.Get(env + p); v.Exists() && v.Type != gjson.Null {
				if s := strings.TrimSpace(v.String()); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// StatusUpdate is what an order-status payload says about an order
type StatusUpdate struct {
	Status              types.OrderStatus
	RawStatus           string
	SourceInitiateTx    string
	DestinationInitiate string
	DestinationRedeemTx string
	RefundTx            string
	InstantRefund       string
	DepositAddress      string
	DepositAmount       string
}

// ParseStatus reads an order-status payload. Field names vary by provider and
// nesting; when no explicit status is present it is derived from the swap
// transaction hashes.
func ParseStatus(raw []byte) (StatusUpdate, bool) {
	if !gjson.ValidBytes(raw) {
		return StatusUpdate{}, false
	}
	doc := gjson.ParseBytes(raw)

	u := StatusUpdate{
		RawStatus:           lookup(doc, "status", "order_status", "state"),
		SourceInitiateTx:    lookup(doc, "source_swap.initiate_tx_hash", "source_initiate_tx_hash", "source_initiate_tx", "initiate_tx_hash"),
		DestinationInitiate: lookup(doc, "destination_swap.initiate_tx_hash", "destination_initiate_tx_hash", "destination_initiate_tx"),
		DestinationRedeemTx: lookup(doc, "destination_swap.redeem_tx_hash", "destination_redeem_tx_hash", "destination_redeem_tx", "redeem_tx_hash"),
		RefundTx:            lookup(doc, "source_swap.refund_tx_hash", "refund_tx_hash", "refund_tx"),
		InstantRefund:       lookup(doc, "instant_refund_tx", "instant_refund_tx_bytes", "source_swap.instant_refund_tx", "instant_refund"),
		DepositAddress:      lookup(doc, "deposit_address", "source_swap.deposit_address"),
		DepositAmount:       lookup(doc, "deposit_amount", "source_swap.amount"),
	}

	switch {
	case lookup(doc, "is_completed") == "true":
		u.Status = types.OrderCompleted
	case u.RawStatus != "":
		u.Status = types.ParseOrderStatus(u.RawStatus)
	case u.DestinationRedeemTx != "":
		u.Status = types.OrderCompleted
	case u.RefundTx != "":
		u.Status = types.OrderRefunded
	case u.DestinationInitiate != "":
		u.Status = types.OrderProcessing
	case u.SourceInitiateTx != "":
		u.Status = types.OrderInitiated
	default:
		return u, false
	}
	return u, true
}

// apply merges u into o without erasing fields the payload omitted
func (u StatusUpdate) apply(o *types.BridgeOrder) {
	o.Status = u.Status
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&o.SourceInitiateTx, u.SourceInitiateTx)
	set(&o.DestinationInitiate, u.DestinationInitiate)
	set(&o.DestinationRedeemTx, u.DestinationRedeemTx)
	set(&o.RefundTx, u.RefundTx)
	set(&o.InstantRefund, u.InstantRefund)
	set(&o.DepositAddress, u.DepositAddress)
	set(&o.DepositAmount, u.DepositAmount)
}
