// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import "time"

// TransactionSource identifies the kind of paid operation a ledger entry
// originated from.
type TransactionSource string

const (
	SourceToolExecution TransactionSource = "tool-execution"
	SourceLLMGeneration TransactionSource = "llm-generation"
	SourceRerank        TransactionSource = "rerank"
	SourceWebSearch     TransactionSource = "web-search"
	SourceGrant         TransactionSource = "grant"
	SourceExpirySweep   TransactionSource = "expiry-sweep"
)

// WorkspaceBalance is the shared credit balance of one workspace. The balance
// is a signed integer in micro-units of Currency (1_000_000 = 1.00). Version
// increases by exactly 1 per successful mutation; all mutations go through
// BalanceStore.ConditionalUpdateBalance, never a blind write.
type WorkspaceBalance struct {
	WorkspaceID   string    `bson:"_id" json:"workspace_id"`
	CreditBalance int64     `bson:"credit_balance" json:"credit_balance"`
	Currency      string    `bson:"currency" json:"currency"`
	Version       int64     `bson:"version" json:"version"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// CreditReservation is a provisional debit held against a workspace balance
// for the duration of one paid operation. It is immutable once created: the
// record exists exactly while the corresponding debit is outstanding, and is
// deleted by the one settlement or refund that closes it. Reservations that
// outlive Expires are reclaimed by the Sweeper.
type CreditReservation struct {
	ID             string    `bson:"_id" json:"reservation_id"`
	WorkspaceID    string    `bson:"workspace_id" json:"workspace_id"`
	ReservedAmount int64     `bson:"reserved_amount" json:"reserved_amount"`
	EstimatedCost  int64     `bson:"estimated_cost" json:"estimated_cost"`
	Currency       string    `bson:"currency" json:"currency"`
	Expires        time.Time `bson:"expires" json:"expires"`
	Version        int64     `bson:"version" json:"version"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// CreditTransaction is an immutable record of a balance delta. A positive
// amount is an additional charge, a negative amount a refund or credit.
// Entries are created only by appending to a TurnLedger and are consumed
// exactly once at commit time.
type CreditTransaction struct {
	ID                 string            `bson:"_id" json:"id"`
	WorkspaceID        string            `bson:"workspace_id" json:"workspace_id"`
	AgentID            string            `bson:"agent_id,omitempty" json:"agent_id,omitempty"`
	ConversationID     string            `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	Source             TransactionSource `bson:"source" json:"source"`
	Supplier           string            `bson:"supplier" json:"supplier"`
	ToolCall           string            `bson:"tool_call,omitempty" json:"tool_call,omitempty"`
	Description        string            `bson:"description" json:"description"`
	AmountMillionthUSD int64             `bson:"amount_millionth_usd" json:"amount_millionth_usd"`
	CreatedAt          time.Time         `bson:"created_at" json:"created_at"`
}

// TransactionMeta carries the attribution fields a settlement stamps onto the
// ledger entry it appends. Source and Supplier are required for billing
// reports; the rest is optional context.
type TransactionMeta struct {
	AgentID        string
	ConversationID string
	Source         TransactionSource
	Supplier       string
	ToolCall       string
	Description    string
}

// Reservation is the result of a successful Reserve call. A zero ID means no
// reservation was taken because the workspace brings its own provider key;
// settlement calls with a zero reservation ID are no-ops.
type Reservation struct {
	ID             string `json:"reservation_id"`
	ReservedAmount int64  `json:"reserved_amount"`
	BalanceAfter   int64  `json:"workspace_balance_after"`
	BYOK           bool   `json:"byok,omitempty"`
}
