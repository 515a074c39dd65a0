package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
)

// SyntheticOrderPrefix marks order ids generated for notifications that
// carried none.
const SyntheticOrderPrefix = "PING-"

// AcceptedCurrencies lists the currency codes kept in provenance.
var AcceptedCurrencies = map[string]bool{"USD": true, "EUR": true, "CNY": true}

// Notification is a flattened storefront purchase notification.
type Notification map[string]string

// Get returns the first non-empty trimmed value among names.
func (n Notification) Get(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(n[name]); v != "" {
			return v
		}
	}
	return ""
}

// Fields lists the field names present, for diagnostics.
func (n Notification) Fields() []string {
	fields := make([]string, 0, len(n))
	for k := range n {
		fields = append(fields, k)
	}
	return fields
}

// fields consumed into dedicated provenance columns
var consumedFields = map[string]bool{
	"license_key":       true,
	"sale_id":           true,
	"order_id":          true,
	"email":             true,
	"product_permalink": true,
	"product_id":        true,
	"product_name":      true,
	"price":             true,
	"currency":          true,
	"purchaser_id":      true,
	"sale_timestamp":    true,
}

// Signals extracts the classifier inputs.
func (n Notification) Signals() Signals {
	return Signals{
		ProductID:   n.Get("product_permalink", "product_id"),
		ProductName: n.Get("product_name"),
		Price:       n.Get("price"),
		Currency:    n.Get("currency"),
		Key:         n.Get("license_key"),
	}
}

// Operation tells whether ingestion created or updated the row.
type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
)

// IngestResult describes a successful ingestion.
type IngestResult struct {
	Key           string
	Tier          Tier
	Operation     Operation
	SourceOrderID string
	// SyntheticOrderID is set when the notification carried no order id.
	SyntheticOrderID bool
	// Replay is set when the stored row already came from the same order.
	Replay bool
}

// Ingestor upserts licenses from purchase notifications.
type Ingestor struct {
	store      Store
	classifier *Classifier
	logger     *slog.Logger
	now        func() time.Time
	freezeTier bool
}

// IngestorOption configures an Ingestor
type IngestorOption func(*Ingestor)

// WithIngestClock overrides time.Now.
func WithIngestClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) { i.now = now }
}

// WithFrozenTierOnActivation keeps the tier of claimed licenses unchanged
// on re-ingestion.
func WithFrozenTierOnActivation(freeze bool) IngestorOption {
	return func(i *Ingestor) { i.freezeTier = freeze }
}

// NewIngestor creates an Ingestor
func NewIngestor(store Store, classifier *Classifier, logger *slog.Logger, opts ...IngestorOption) *Ingestor {
	if classifier == nil {
		classifier = NewClassifier()
	}
	i := &Ingestor{
		store:      store,
		classifier: classifier,
		logger:     infrastructure.WithComponent(logger, "license_ingestor"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest classifies the notification and upserts the license. Owner and
// activation time are never modified. Only store failures and a missing
// or oversized key are returned as errors.
func (i *Ingestor) Ingest(ctx context.Context, n Notification) (IngestResult, error) {
	key := NormalizeKey(n.Get("license_key"))
	if key == "" {
		return IngestResult{}, licenseErrors.ErrMissingLicenseKey
	}
	if len(key) > MaxKeyLength {
		return IngestResult{}, fmt.Errorf("%w: license key longer than %d characters",
			licenseErrors.ErrInvalidInput, MaxKeyLength)
	}

	now := i.now().UTC()
	tier := i.classifier.Classify(n.Signals())
	prov, synthetic := buildProvenance(n, tier, now)

	logger := i.logger.With(
		slog.String("license_key", MaskKey(key)),
		slog.String("source_order_id", prov.SourceOrderID),
	)
	if synthetic {
		logger.WarnContext(ctx, "notification carried no order id, using synthetic id")
	}

	result := IngestResult{
		Key:              key,
		Tier:             tier,
		SourceOrderID:    prov.SourceOrderID,
		SyntheticOrderID: synthetic,
	}

	existing, err := i.store.FindByKey(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		lic := &License{
			Key:        key,
			Tier:       tier,
			Provenance: prov,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err = i.store.InsertIfAbsent(ctx, lic)
		if err == nil {
			result.Operation = OperationCreated
			logger.InfoContext(ctx, "license created", slog.String("tier", tier.String()))
			return result, nil
		}
		if !errors.Is(err, ErrConflict) {
			return IngestResult{}, fmt.Errorf("insert license: %w", err)
		}

		// Lost an insert race; the row exists now, so apply as an update.
		logger.InfoContext(ctx, "concurrent insert detected, retrying as update")
		existing, err = i.store.FindByKey(ctx, key)
		if err != nil {
			return IngestResult{}, fmt.Errorf("reload license after conflict: %w", err)
		}
	case err != nil:
		return IngestResult{}, fmt.Errorf("find license: %w", err)
	}

	return i.update(ctx, logger, existing, prov, result, now)
}

func (i *Ingestor) update(ctx context.Context, logger *slog.Logger, existing *License, prov Provenance, result IngestResult, now time.Time) (IngestResult, error) {
	tier := result.Tier
	updatedAt := now

	if existing.Provenance.SourceOrderID == prov.SourceOrderID {
		result.Replay = true
		tier = existing.Tier
		if existing.Provenance.Equal(prov) {
			updatedAt = existing.UpdatedAt
		}
	}
	if i.freezeTier && existing.Claimed() {
		tier = existing.Tier
	}

	m := Mutation{Tier: &tier, Provenance: &prov, UpdatedAt: updatedAt}
	if err := i.store.UpdateUnconditional(ctx, existing.Key, m); err != nil {
		return IngestResult{}, fmt.Errorf("update license: %w", err)
	}

	result.Tier = tier
	result.Operation = OperationUpdated

	attrs := []any{
		slog.String("tier", tier.String()),
		slog.Bool("replay", result.Replay),
	}
	if existing.Tier != tier {
		attrs = append(attrs, slog.String("previous_tier", existing.Tier.String()))
	}
	logger.InfoContext(ctx, "license updated", attrs...)

	return result, nil
}

func buildProvenance(n Notification, tier Tier, now time.Time) (Provenance, bool) {
	prov := Provenance{
		SourceOrderID: n.Get("sale_id", "order_id"),
		PurchaseEmail: n.Get("email"),
		Product:       n.Get("product_permalink", "product_id", "product_name"),
		PurchaserID:   n.Get("purchaser_id"),
	}

	synthetic := false
	if prov.SourceOrderID == "" {
		prov.SourceOrderID = SyntheticOrderPrefix + strconv.FormatInt(now.UnixMilli(), 10)
		synthetic = true
	}
	if prov.Product == "" {
		prov.Product = fmt.Sprintf("%d_multihotplayer", tier.Capacity())
	}

	if cents, ok := ParsePriceCents(n.Get("price")); ok {
		prov.PriceCents = &cents
	}
	if currency := strings.ToUpper(n.Get("currency")); AcceptedCurrencies[currency] {
		prov.Currency = currency
	}
	if at, ok := parseSaleTimestamp(n.Get("sale_timestamp")); ok {
		prov.PurchasedAt = &at
	}

	for k, v := range n {
		if consumedFields[k] || strings.TrimSpace(v) == "" {
			continue
		}
		if prov.Metadata == nil {
			prov.Metadata = make(map[string]string)
		}
		prov.Metadata[k] = v
	}

	return prov, synthetic
}

// parseSaleTimestamp accepts unix seconds or RFC 3339.
func parseSaleTimestamp(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
