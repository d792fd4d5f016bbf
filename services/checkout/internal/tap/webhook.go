package tap

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

// ParseWebhook разбирает тело уведомления Tap (объект charge).
func ParseWebhook(body []byte) (*Charge, error) {
	var cj chargeJSON
	if err := json.Unmarshal(body, &cj); err != nil {
		return nil, fmt.Errorf("%w: некорректное тело уведомления: %v", domain.ErrValidation, err)
	}
	if cj.ID == "" || cj.Status == "" {
		return nil, fmt.Errorf("%w: в уведомлении нет id или status", domain.ErrValidation)
	}
	return cj.toCharge(body), nil
}

// Hashstring считает подпись Tap для charge:
// HMAC-SHA256(x_id…x_amount…x_currency…x_gateway_reference…x_payment_reference…x_status…x_created…).
func Hashstring(secretKey string, ch *Charge) string {
	amount := ch.Amount.StringFixed(domain.CurrencyExponent(ch.Currency))

	var b strings.Builder
	b.WriteString("x_id" + ch.ID)
	b.WriteString("x_amount" + amount)
	b.WriteString("x_currency" + ch.Currency)
	b.WriteString("x_gateway_reference" + ch.GatewayReference)
	b.WriteString("x_payment_reference" + ch.PaymentReference)
	b.WriteString("x_status" + ch.Status)
	b.WriteString("x_created" + ch.Created)

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook сравнивает подпись из заголовка hashstring за постоянное время.
func (c *Client) VerifyWebhook(ch *Charge, hashstring string) bool {
	if hashstring == "" {
		return false
	}
	expected := Hashstring(c.secretKey, ch)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(hashstring)))
}

// RawStatus достаёт status из сохранённого ответа Tap. Пустая строка — статуса нет.
func RawStatus(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var v struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return strings.ToUpper(v.Status)
}
