package tap

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

// Режимы списания.
const (
	MethodCreate    = "CREATE"    // списание сразу
	MethodAuthorize = "AUTHORIZE" // только авторизация, нужен capture
)

// Customer — покупатель в запросе charge.
type Customer struct {
	FirstName string
	Email     string
	Phone     string // национальный номер без кода страны
	PhoneCode string // "966"
}

// ChargeRequest — создание charge. Сумма в минимальных единицах валюты.
type ChargeRequest struct {
	AmountMinor    int64
	Currency       string
	Customer       Customer
	OrderID        string
	OrderReference string // номер заказа
	Description    string
	RedirectURL    string
	PostURL        string // webhook, необязательно
	Method         string
}

// Charge — ответ Tap по charge.
type Charge struct {
	ID               string
	Status           string
	Amount           decimal.Decimal
	Currency         string
	TransactionURL   string
	GatewayReference string
	PaymentReference string
	OrderReference   string
	ResponseCode     string
	ResponseMessage  string
	Created          string
	// Raw — тело ответа без изменений.
	Raw []byte
}

// AmountMinor — сумма charge в минимальных единицах.
func (c *Charge) AmountMinor() (int64, error) {
	return domain.ToMinorUnits(c.Amount, c.Currency)
}

// Refund — ответ Tap по возврату.
type Refund struct {
	ID       string
	ChargeID string
	Status   string
	Amount   decimal.Decimal
	Currency string
	Raw      []byte
}

// Refunded — возврат проведён.
func (r *Refund) Refunded() bool {
	return strings.EqualFold(r.Status, "REFUNDED")
}

// =============================================================================
// Wire формат
// =============================================================================

type phoneJSON struct {
	CountryCode string `json:"country_code"`
	Number      string `json:"number"`
}

type customerJSON struct {
	FirstName string     `json:"first_name"`
	Email     string     `json:"email,omitempty"`
	Phone     *phoneJSON `json:"phone,omitempty"`
}

type chargeRequestJSON struct {
	Amount              json.Number       `json:"amount"`
	Currency            string            `json:"currency"`
	ThreeDSecure        bool              `json:"threeDSecure"`
	SaveCard            bool              `json:"save_card"`
	Description         string            `json:"description,omitempty"`
	StatementDescriptor string            `json:"statement_descriptor,omitempty"`
	Metadata            map[string]string `json:"metadata"`
	Reference           map[string]string `json:"reference,omitempty"`
	Customer            customerJSON      `json:"customer"`
	Source              map[string]string `json:"source"`
	Redirect            map[string]string `json:"redirect"`
	Post                map[string]string `json:"post,omitempty"`
	Method              string            `json:"method,omitempty"`
}

type refundRequestJSON struct {
	Amount   json.Number `json:"amount,omitempty"`
	Currency string      `json:"currency,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

type chargeJSON struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Transaction struct {
		URL     string `json:"url"`
		Created string `json:"created"`
	} `json:"transaction"`
	Reference struct {
		Gateway string `json:"gateway"`
		Payment string `json:"payment"`
		Order   string `json:"order"`
	} `json:"reference"`
	Response struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"response"`
}

type refundJSON struct {
	ID       string          `json:"id"`
	ChargeID string          `json:"charge_id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type errorJSON struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// wireAmount рендерит минимальные единицы с точностью валюты: 23000 SAR → 230.00.
func wireAmount(minor int64, currency string) json.Number {
	return json.Number(domain.FromMinorUnits(minor, currency).StringFixed(domain.CurrencyExponent(currency)))
}

func (c chargeJSON) toCharge(raw []byte) *Charge {
	return &Charge{
		ID:               c.ID,
		Status:           strings.ToUpper(c.Status),
		Amount:           c.Amount,
		Currency:         c.Currency,
		TransactionURL:   c.Transaction.URL,
		GatewayReference: c.Reference.Gateway,
		PaymentReference: c.Reference.Payment,
		OrderReference:   c.Reference.Order,
		ResponseCode:     c.Response.Code,
		ResponseMessage:  c.Response.Message,
		Created:          c.Transaction.Created,
		Raw:              raw,
	}
}
