package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"

	"example.com/tap-checkout/services/checkout/internal/tap"
)

// Gateway — операции платёжного шлюза, которые нужны сервису. Реализуется *tap.Client.
type Gateway interface {
	CreateCharge(ctx context.Context, req tap.ChargeRequest) (*tap.Charge, error)
	CaptureCharge(ctx context.Context, chargeID string) (*tap.Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*tap.Charge, error)
	RefundCharge(ctx context.Context, chargeID string, amountMinor *int64, currency string) (*tap.Refund, error)
	VerifyWebhook(ch *tap.Charge, hashstring string) bool
}

// Actor — кто выполняет операцию.
type Actor struct {
	UserID uint64
	Admin  bool
}

// SystemActor — фоновые задачи и обработчики событий.
var SystemActor = Actor{Admin: true}

// CanAccess — администратор или владелец.
func (a Actor) CanAccess(ownerID uint64) bool {
	return a.Admin || a.UserID == ownerID
}

// OrderNumberGenerator выдаёт номера заказов.
type OrderNumberGenerator interface {
	Next() string
}

type snowflakeNumbers struct {
	node *snowflake.Node
}

// NewOrderNumberGenerator — номера вида ORD-<snowflake id>, уникальные между узлами.
func NewOrderNumberGenerator(node int64) (OrderNumberGenerator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации snowflake узла %d: %w", node, err)
	}
	return &snowflakeNumbers{node: n}, nil
}

func (g *snowflakeNumbers) Next() string {
	return "ORD-" + g.node.Generate().String()
}
