package types

// SwapQuoteRequest asks the pricing backend for a same-chain quote
type SwapQuoteRequest struct {
	FromToken string `json:"from_token"`
	ToToken   string `json:"to_token"`
	Amount    string `json:"amount"`
	Slippage  string `json:"slippage"`
	Mode      Mode   `json:"mode"`
}

// SwapQuoteResponse is the backend's priced swap estimate.
// Numeric fields arrive as decimal strings and may be empty.
type SwapQuoteResponse struct {
	ToAmount      string        `json:"to_amount"`
	Fee           string        `json:"fee"`
	FeeUSD        string        `json:"fee_usd,omitempty"`
	MEVFee        string        `json:"mev_fee,omitempty"`
	EstimatedTime string        `json:"estimated_time"`
	PriceImpact   string        `json:"price_impact"`
	OnchainCalls  []OnchainCall `json:"onchain_calls,omitempty"`
}

// BridgeQuoteRequest asks the pricing backend for a cross-chain quote
type BridgeQuoteRequest struct {
	FromChain string `json:"from_chain"`
	ToChain   string `json:"to_chain"`
	Token     string `json:"token"`
	ToToken   string `json:"to_token"`
	Amount    string `json:"amount"`
}

// BridgeQuoteResponse is the backend's bridge estimate
type BridgeQuoteResponse struct {
	EstimatedReceive string `json:"estimated_receive"`
	Fee              string `json:"fee"`
	NetworkFee       string `json:"network_fee,omitempty"`
	EstimatedTime    string `json:"estimated_time"`
	BridgeProvider   string `json:"bridge_provider"`
}

// ExecuteSwapRequest finalizes a signed swap with the backend
type ExecuteSwapRequest struct {
	FromToken   string          `json:"from_token"`
	ToToken     string          `json:"to_token"`
	Amount      string          `json:"amount"`
	MinOut      string          `json:"min_amount_out"`
	Slippage    string          `json:"slippage"`
	Mode        Mode            `json:"mode"`
	TxHash      string          `json:"onchain_tx_hash"`
	Recipient   string          `json:"recipient,omitempty"`
	HideBalance bool            `json:"hide_balance"`
	Privacy     *PrivacyPayload `json:"privacy,omitempty"`
}

// ExecuteSwapResponse reports the finalized swap and its rewards
type ExecuteSwapResponse struct {
	TxHash                string `json:"tx_hash"`
	ToAmount              string `json:"to_amount"`
	EstimatedPointsEarned string `json:"estimated_points_earned"`
	NFTDiscountPercent    string `json:"nft_discount_percent"`
	FeeDiscountSaved      string `json:"fee_discount_saved"`
	PrivacyTxHash         string `json:"privacy_tx_hash,omitempty"`
}

// EVMTransaction is an unsigned transaction descriptor returned for signing
type EVMTransaction struct {
	To    string `json:"to"`
	Data  string `json:"data,omitempty"`
	Value string `json:"value,omitempty"`
}

// ExecuteBridgeRequest opens a bridge order
type ExecuteBridgeRequest struct {
	FromChain     string          `json:"from_chain"`
	ToChain       string          `json:"to_chain"`
	Token         string          `json:"token"`
	ToToken       string          `json:"to_token"`
	Amount        string          `json:"amount"`
	Recipient     string          `json:"recipient"`
	RefundAddress string          `json:"refund_address,omitempty"`
	Privacy       *PrivacyPayload `json:"privacy,omitempty"`
}

// ExecuteBridgeResponse describes the opened order and anything still to sign
type ExecuteBridgeResponse struct {
	BridgeID       string          `json:"bridge_id"`
	Status         string          `json:"status"`
	Provider       string          `json:"provider,omitempty"`
	DepositAddress string          `json:"deposit_address,omitempty"`
	DepositAmount  string          `json:"deposit_amount,omitempty"`
	PrivacyTxHash  string          `json:"privacy_tx_hash,omitempty"`
	EVMTransaction *EVMTransaction `json:"evm_transaction,omitempty"`
	StarknetCalls  []OnchainCall   `json:"starknet_calls,omitempty"`
}

// PrivacyActionRequest asks the proving backend for a fresh payload
type PrivacyActionRequest struct {
	Verifier     string `json:"verifier"`
	FromToken    string `json:"from_token"`
	ToToken      string `json:"to_token"`
	Amount       string `json:"amount"`
	Recipient    string `json:"recipient,omitempty"`
	Denomination string `json:"denomination,omitempty"`
}

// PrivacyActionResponse carries a generated payload
type PrivacyActionResponse struct {
	Payload PrivacyPayload `json:"payload"`
	TxHash  string         `json:"tx_hash,omitempty"`
}

// PrivateExecutionRequest wraps a swap action inside the private executor
type PrivateExecutionRequest struct {
	Verifier string          `json:"verifier"`
	Payload  *PrivacyPayload `json:"payload"`
	Action   OnchainCall     `json:"action"`
	Amount   string          `json:"amount"`
}

// PrivateExecutionResponse returns the calls replacing the raw swap action
type PrivateExecutionResponse struct {
	Payload      *PrivacyPayload `json:"payload,omitempty"`
	OnchainCalls []OnchainCall   `json:"onchain_calls"`
}
