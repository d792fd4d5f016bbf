package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"example.com/tap-checkout/pkg/jwt"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/repository"
	"example.com/tap-checkout/services/checkout/internal/service"
)

func runMigrate(ctx context.Context, env *cliEnv, _ []string) error {
	db, err := env.database()
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).AutoMigrate(repository.Models()...); err != nil {
		return fmt.Errorf("ошибка миграции: %w", err)
	}
	fmt.Fprintf(env.stdout, "миграция выполнена: %d таблиц\n", len(repository.Models()))
	return nil
}

func runSync(ctx context.Context, env *cliEnv, args []string) error {
	chargeID, err := singleArg(args, "charge_id")
	if err != nil {
		return err
	}
	if err := env.services(ctx); err != nil {
		return err
	}

	res, err := env.orders.SyncPaymentStatus(ctx, chargeID)
	if err != nil {
		return err
	}
	return printOrders(env.stdout, []*domain.Order{res.Order})
}

func runReconcile(ctx context.Context, env *cliEnv, _ []string) error {
	if err := env.services(ctx); err != nil {
		return err
	}
	cfg := env.cfg.Reconciler
	r := service.NewReconciler(env.orderRep, env.orders, service.ReconcilerConfig{
		Interval:   cfg.Interval,
		StaleAfter: cfg.StaleAfter,
		BatchSize:  cfg.BatchSize,
	})
	n := r.RunOnce(ctx)
	fmt.Fprintf(env.stdout, "обработано заказов: %d\n", n)
	return nil
}

func runRefund(ctx context.Context, env *cliEnv, args []string) error {
	orderNumber, err := singleArg(args, "order_number")
	if err != nil {
		return err
	}
	if err := env.services(ctx); err != nil {
		return err
	}

	refunded, err := env.orders.RetryRefund(ctx, orderNumber)
	if err != nil {
		return err
	}
	if refunded {
		fmt.Fprintf(env.stdout, "%s: деньги возвращены\n", orderNumber)
	} else {
		fmt.Fprintf(env.stdout, "%s: возврат всё ещё не проведён\n", orderNumber)
	}
	return nil
}

func runInvoice(ctx context.Context, env *cliEnv, args []string) error {
	orderNumber, err := singleArg(args, "order_number")
	if err != nil {
		return err
	}
	if err := env.services(ctx); err != nil {
		return err
	}

	inv, err := env.invoices.CreateInvoice(ctx, orderNumber, service.SystemActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%s %s %s %s\n", inv.InvoiceNumber, inv.OrderNumber, inv.GrandTotal.StringFixed(2), inv.Currency)
	return nil
}

func runRender(ctx context.Context, env *cliEnv, args []string) error {
	orderID, err := singleArg(args, "order_id")
	if err != nil {
		return err
	}
	if err := env.services(ctx); err != nil {
		return err
	}

	doc, err := env.invoices.RenderInvoiceDocument(ctx, orderID, service.SystemActor)
	if err != nil {
		return err
	}
	_, err = env.stdout.Write(doc.Content)
	return err
}

func runOrders(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("orders", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	status := fs.String("status", "", "pending|completed|failed|cancelled")
	userID := fs.Uint64("user", 0, "только заказы пользователя")
	page := fs.Int("page", 1, "страница")
	pageSize := fs.Int("size", 20, "размер страницы")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if err := env.services(ctx); err != nil {
		return err
	}

	actor := service.SystemActor
	if *userID != 0 {
		actor = service.Actor{UserID: *userID}
	}
	var st *domain.OrderStatus
	if *status != "" {
		s := domain.OrderStatus(*status)
		st = &s
	}

	orders, total, err := env.orders.ListOrders(ctx, actor, st, *page, *pageSize)
	if err != nil {
		return err
	}
	if err := printOrders(env.stdout, orders); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "всего: %d\n", total)
	return nil
}

func runToken(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	customerID := fs.Uint64("customer", 0, "ID покупателя")
	admin := fs.Bool("admin", false, "роль администратора")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *customerID == 0 && !*admin {
		return fmt.Errorf("%w: нужен -customer или -admin", errUsage)
	}

	cfg, err := env.config()
	if err != nil {
		return err
	}
	manager, err := jwt.NewManager(jwt.Config{
		PrivateKeyPath: cfg.JWT.PrivateKeyPath,
		PublicKeyPath:  cfg.JWT.PublicKeyPath,
		Issuer:         cfg.JWT.Issuer,
		AccessTokenTTL: cfg.JWT.AccessTokenTTL,
	})
	if err != nil {
		return err
	}

	role := jwt.RoleCustomer
	if *admin {
		role = jwt.RoleAdmin
	}
	token, expiresAt, err := manager.IssueAccessToken(*customerID, role)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, token)
	fmt.Fprintf(env.stderr, "действителен до %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

func singleArg(args []string, name string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("%w: ожидается один аргумент <%s>", errUsage, name)
	}
	return args[0], nil
}

// printOrders выводит заказы таблицей.
func printOrders(w io.Writer, orders []*domain.Order) error {
	table := tablewriter.NewWriter(w)
	table.Header("Number", "User", "Status", "Payment", "Fulfillment", "Total", "Charge", "Created")
	for _, o := range orders {
		charge := ""
		if o.GatewayChargeID != nil {
			charge = *o.GatewayChargeID
		}
		if err := table.Append([]string{
			o.OrderNumber,
			fmt.Sprint(o.UserID),
			string(o.Status),
			string(o.PaymentStatus),
			string(o.FulfillmentStatus),
			o.Total.StringFixed(2) + " " + o.Currency,
			charge,
			o.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
