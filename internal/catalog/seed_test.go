package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStatic(t *testing.T) {
	seed := `{
		"products": [{"id": "rice", "name": "Rice 5kg", "price": "4500.00", "available": true}],
		"locations": {"lekki": {"id": "band-a", "delivery_fee": "1500", "markup_rate": "2", "tax_rate": "7.5", "delivery_days": 2}}
	}`
	s, err := LoadStatic(strings.NewReader(seed))
	require.NoError(t, err)

	c := New(s)
	ctx := context.Background()
	price, err := c.UnitPrice(ctx, "rice")
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("4500")))

	charges, err := c.ShipmentCharges(ctx, "lekki", dec("10000"))
	require.NoError(t, err)
	assert.True(t, charges.DeliveryFee.Equal(dec("1700")), charges.DeliveryFee.String())
	assert.True(t, charges.Tax.Equal(dec("750")), charges.Tax.String())
	assert.Equal(t, 2, charges.DeliveryDays)
}

func TestLoadStaticRejectsBadSeeds(t *testing.T) {
	for name, seed := range map[string]string{
		"malformed":      `{"products": [`,
		"unknown field":  `{"items": []}`,
		"missing id":     `{"products": [{"name": "x", "price": "1"}]}`,
		"negative price": `{"products": [{"id": "x", "price": "-1"}]}`,
		"negative rate":  `{"locations": {"lekki": {"tax_rate": "-7.5"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadStatic(strings.NewReader(seed))
			assert.Error(t, err)
		})
	}
}

func TestLoadStaticFileReadsDevSeed(t *testing.T) {
	s, err := LoadStaticFile("../../configs/catalog.dev.json")
	require.NoError(t, err)

	_, err = New(s).UnitPrice(context.Background(), "rice-5kg")
	require.NoError(t, err)
	_, err = New(s).UnitPrice(context.Background(), "garri-1kg")
	assert.ErrorIs(t, err, ErrProductUnavailable)

	_, err = LoadStaticFile("does-not-exist.json")
	assert.Error(t, err)
}
