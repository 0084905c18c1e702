// Package billing provides the domain model for monthly rental bills.
//
// The unit of work is the BillAggregate: one tenant's bill for one month
// together with its ad-hoc expense lines, payment lines and the previous
// period's carry-forward meter readings. Aggregates are addressed by
// AggregateKey (tenant, month, year), whose Previous/Next handle year
// rollover for month navigation.
//
// Identity follows a single rule: uuid.Nil means "not persisted yet".
// The store assigns identities on reconcile; child lines report theirs
// via Assigned.
//
// BillStore is the collaborator contract the engine consumes: a combined
// single round-trip read (with ErrCombinedReadUnsupported signalling the
// decomposed fallback) and an atomic set-difference reconcile write.
package billing
