package redisstore

import (
	"encoding/json"
	"fmt"
	"time"

	"licensed/internal/license"
)

// record is the JSON document stored under a license key.
type record struct {
	Key         string            `json:"key"`
	Tier        license.Tier      `json:"tier"`
	Owner       string            `json:"owner,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ActivatedAt *time.Time        `json:"activated_at,omitempty"`
	OrderID     string            `json:"source_order_id"`
	Email       string            `json:"purchase_email,omitempty"`
	Product     string            `json:"product,omitempty"`
	PurchaserID string            `json:"purchaser_id,omitempty"`
	PriceCents  *int64            `json:"price_cents,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	PurchasedAt *time.Time        `json:"purchased_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func encode(l *license.License) ([]byte, error) {
	r := record{
		Key:         l.Key,
		Tier:        l.Tier,
		Owner:       l.Owner,
		CreatedAt:   l.CreatedAt.UTC(),
		UpdatedAt:   l.UpdatedAt.UTC(),
		ActivatedAt: l.ActivatedAt,
		OrderID:     l.Provenance.SourceOrderID,
		Email:       l.Provenance.PurchaseEmail,
		Product:     l.Provenance.Product,
		PurchaserID: l.Provenance.PurchaserID,
		PriceCents:  l.Provenance.PriceCents,
		Currency:    l.Provenance.Currency,
		PurchasedAt: l.Provenance.PurchasedAt,
		Metadata:    l.Provenance.Metadata,
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode license %s: %w", license.MaskKey(l.Key), err)
	}
	return data, nil
}

func decode(data []byte) (*license.License, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode license record: %w", err)
	}
	return &license.License{
		Key:         r.Key,
		Tier:        r.Tier,
		Owner:       r.Owner,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ActivatedAt: r.ActivatedAt,
		Provenance: license.Provenance{
			SourceOrderID: r.OrderID,
			PurchaseEmail: r.Email,
			Product:       r.Product,
			PurchaserID:   r.PurchaserID,
			PriceCents:    r.PriceCents,
			Currency:      r.Currency,
			PurchasedAt:   r.PurchasedAt,
			Metadata:      r.Metadata,
		},
	}, nil
}
