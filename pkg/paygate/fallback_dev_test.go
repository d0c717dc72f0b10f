//go:build !production

package paygate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevGateway(t *testing.T) {
	gw, err := NewDevGateway(testLogger())
	require.NoError(t, err)
	assert.True(t, DevGatewayAvailable)

	pi, err := gw.CreatePaymentIntent(context.Background(), PaymentIntentParams{Amount: 100, Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pi.ID, "pi_dev_"))
	assert.NotEmpty(t, pi.ClientSecret)

	other, err := gw.CreatePaymentIntent(context.Background(), PaymentIntentParams{Amount: 100, Currency: "USD"})
	require.NoError(t, err)
	assert.NotEqual(t, pi.ID, other.ID)

	again, err := gw.GetPaymentIntent(context.Background(), pi.ID)
	require.NoError(t, err)
	assert.Equal(t, pi.ClientSecret, again.ClientSecret)

	_, err = gw.GetPaymentIntent(context.Background(), "pi_unknown")
	assert.Error(t, err)

	tr, err := gw.CreateTransfer(context.Background(), TransferParams{Amount: 5000, TransferGroup: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "p1", tr.TransferGroup)
}
