// Package license implements the license lifecycle: classification of
// storefront purchases into tiers, idempotent ingestion of purchase
// notifications, first-claim activation by an owner, and entitlement
// queries.
//
// # Components
//
//	- Classifier: pure mapping from purchase signals to a Tier
//	- Ingestor: upserts licenses from webhook notifications
//	- Coordinator: binds an unclaimed license to exactly one owner
//	- EntitlementService: derives an owner's screen capacity
//	- RetryingStore: bounded backoff around any Store
//
// # Ownership
//
// A license's owner is written once. The Coordinator reads the row, then
// issues a conditional update guarded by "owner is unset". When the guard
// fails another writer won the race; the row is re-read and the decision
// re-evaluated, bounded by MaxAttempts:
//
//	find -> owner == caller   -> already activated, no write
//	     -> owner != ""       -> ErrLicenseAlreadyClaimed
//	     -> owner == ""       -> UpdateConditional(Unclaimed)
//	                               ok              -> activated
//	                               ErrConditionFailed -> retry from find
//
// Ingestion never touches owner or activation time.
//
// # Storage
//
// Store is implemented by internal/store/memory, internal/store/postgres and
// internal/store/redisstore. Implementations must make InsertIfAbsent and
// UpdateConditional atomic with respect to each other.
package license
