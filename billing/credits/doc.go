// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

/*
Package credits implements the usage-metered credit ledger for Quillworks
workspaces. Every paid external call an agent makes (LLM generation,
re-ranking, third-party search) is charged against a single shared credit
balance per workspace, in integer micro-units of the workspace currency.

# Flow

A caller reserves an estimated cost before the paid call, runs the call, and
settles the reservation once the real cost is known:

	res, err := mgr.Reserve(ctx, workspaceID, estimate, 5, false)
	if err != nil {
	    return err // InsufficientCredits or ConcurrencyExhausted
	}
	out, err := provider.Search(ctx, query)
	if err != nil {
	    mgr.Refund(ctx, res.ID, workspaceID, meta, ledger)
	    return err
	}
	mgr.Adjust(ctx, res.ID, workspaceID, actualCost, meta, ledger)

Settlements never touch the balance directly. They append entries to the
request's TurnLedger; the ledger is committed once at the end of the request,
applying one net balance mutation per workspace regardless of how many tool
calls ran during the turn.

The Metered helper wraps the reserve/settle pairing so that every exit path,
including panics and context cancellation, settles or refunds the reservation.
Callers that reserve by hand must guarantee the same discipline themselves.

# Concurrency

The balance record is the only contended state. All mutations go through the
BalanceStore's conditional update (compare version, write version+1, retry on
mismatch). No locks are taken anywhere in this package beyond the TurnLedger's
own buffer mutex, which is request-scoped and never shared across requests.
*/
package credits
