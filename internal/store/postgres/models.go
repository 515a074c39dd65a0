package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"licensed/internal/license"
)

type licenseModel struct {
	LicenseKey    string     `gorm:"column:license_key;primaryKey"`
	Tier          int16      `gorm:"column:tier"`
	Owner         *string    `gorm:"column:owner"`
	ActivatedAt   *time.Time `gorm:"column:activated_at"`
	SourceOrderID string     `gorm:"column:source_order_id"`
	PurchaseEmail string     `gorm:"column:purchase_email"`
	Product       string     `gorm:"column:product"`
	PurchaserID   string     `gorm:"column:purchaser_id"`
	PriceCents    *int64     `gorm:"column:price_cents"`
	Currency      string     `gorm:"column:currency"`
	PurchasedAt   *time.Time `gorm:"column:purchased_at"`
	Metadata      string     `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (licenseModel) TableName() string { return "licenses" }

func toModel(l *license.License) (licenseModel, error) {
	meta, err := encodeMetadata(l.Provenance.Metadata)
	if err != nil {
		return licenseModel{}, err
	}
	m := licenseModel{
		LicenseKey:    l.Key,
		Tier:          int16(l.Tier),
		ActivatedAt:   utcPtr(l.ActivatedAt),
		SourceOrderID: l.Provenance.SourceOrderID,
		PurchaseEmail: l.Provenance.PurchaseEmail,
		Product:       l.Provenance.Product,
		PurchaserID:   l.Provenance.PurchaserID,
		PriceCents:    l.Provenance.PriceCents,
		Currency:      l.Provenance.Currency,
		PurchasedAt:   utcPtr(l.Provenance.PurchasedAt),
		Metadata:      meta,
		CreatedAt:     l.CreatedAt.UTC(),
		UpdatedAt:     l.UpdatedAt.UTC(),
	}
	if l.Owner != "" {
		owner := l.Owner
		m.Owner = &owner
	}
	return m, nil
}

func (m licenseModel) toLicense() (*license.License, error) {
	meta, err := decodeMetadata(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("license %s: %w", license.MaskKey(m.LicenseKey), err)
	}
	l := &license.License{
		Key:         m.LicenseKey,
		Tier:        license.Tier(m.Tier),
		ActivatedAt: utcPtr(m.ActivatedAt),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
		Provenance: license.Provenance{
			SourceOrderID: m.SourceOrderID,
			PurchaseEmail: m.PurchaseEmail,
			Product:       m.Product,
			PurchaserID:   m.PurchaserID,
			PriceCents:    m.PriceCents,
			Currency:      m.Currency,
			PurchasedAt:   utcPtr(m.PurchasedAt),
			Metadata:      meta,
		},
	}
	if m.Owner != nil {
		l.Owner = *m.Owner
	}
	return l, nil
}

// provenanceColumns maps a provenance onto the columns it owns.
func provenanceColumns(p *license.Provenance) (map[string]any, error) {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"source_order_id": p.SourceOrderID,
		"purchase_email":  p.PurchaseEmail,
		"product":         p.Product,
		"purchaser_id":    p.PurchaserID,
		"price_cents":     p.PriceCents,
		"currency":        p.Currency,
		"purchased_at":    utcPtr(p.PurchasedAt),
		"metadata":        meta,
	}, nil
}

// mutationColumns lists the columns written by m.
func mutationColumns(m license.Mutation) (map[string]any, error) {
	cols := map[string]any{}
	if m.Tier != nil {
		cols["tier"] = int16(*m.Tier)
	}
	if m.Provenance != nil {
		prov, err := provenanceColumns(m.Provenance)
		if err != nil {
			return nil, err
		}
		for k, v := range prov {
			cols[k] = v
		}
	}
	if m.Claim != nil {
		cols["owner"] = m.Claim.Owner
		cols["activated_at"] = m.Claim.ActivatedAt.UTC()
	}
	if !m.UpdatedAt.IsZero() {
		cols["updated_at"] = m.UpdatedAt.UTC()
	}
	return cols, nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
