package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensed/internal/license"
	"licensed/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) license.Store { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	lic := storetest.NewLicense("COPY-0001", license.TierBasic)
	require.NoError(t, s.InsertIfAbsent(ctx, lic))

	lic.Provenance.Metadata["variants"] = "mutated"
	got, err := s.FindByKey(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, "Lifetime", got.Provenance.Metadata["variants"])

	got.Owner = "intruder"
	again, err := s.FindByKey(ctx, lic.Key)
	require.NoError(t, err)
	assert.Empty(t, again.Owner)
	assert.Equal(t, 1, s.Len())
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().FindByKey(ctx, "ANY")
	assert.ErrorIs(t, err, context.Canceled)
}
