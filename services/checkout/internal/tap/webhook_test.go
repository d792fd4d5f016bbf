package tap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

func TestParseWebhook(t *testing.T) {
	ch, err := ParseWebhook([]byte(chargeResponse))

	require.NoError(t, err)
	assert.Equal(t, "chg_TS01", ch.ID)
	assert.Equal(t, "gw-1", ch.GatewayReference)
	assert.Equal(t, "1714550000000", ch.Created)

	_, err = ParseWebhook([]byte(`{"object":"charge"}`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClient_VerifyWebhook(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://unused", SecretKey: "sk_test_key"})
	ch, err := ParseWebhook([]byte(chargeResponse))
	require.NoError(t, err)

	valid := Hashstring("sk_test_key", ch)

	assert.True(t, client.VerifyWebhook(ch, valid))
	assert.False(t, client.VerifyWebhook(ch, Hashstring("another_key", ch)))
	assert.False(t, client.VerifyWebhook(ch, ""))

	ch.Status = "CAPTURED"
	assert.False(t, client.VerifyWebhook(ch, valid), "подпись привязана к статусу")
}
