// checkoutctl — утилита оператора checkout: миграции, ручная сверка платежей,
// повтор возвратов, счета и служебные токены.
//
//	checkoutctl migrate
//	checkoutctl sync chg_TS02A5720231433Qs1w0809820
//	checkoutctl reconcile
//	checkoutctl refund ORD-1760000000000
//	checkoutctl invoice ORD-1760000000000
//	checkoutctl render <order_id> > invoice.txt
//	checkoutctl orders -status pending -page 1
//	checkoutctl token -customer 42 -admin
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// errUsage — неверные аргументы команды.
var errUsage = errors.New("неверные аргументы")

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *cliEnv, args []string) error
}

var commands = []command{
	{"migrate", "создать или обновить таблицы", runMigrate},
	{"sync", "<charge_id> — подтянуть статус charge из Tap", runSync},
	{"reconcile", "один проход фоновой сверки", runReconcile},
	{"refund", "<order_number> — повторить возврат по отменённому заказу", runRefund},
	{"invoice", "<order_number> — выставить счёт", runInvoice},
	{"render", "<order_id> — напечатать счёт в stdout", runRender},
	{"orders", "[-status s] [-user id] [-page n] — список заказов", runOrders},
	{"token", "-customer id [-admin] — выпустить access токен", runToken},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "checkoutctl: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errUsage
	}

	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		env := &cliEnv{stdout: stdout, stderr: stderr}
		defer env.close()
		return cmd.run(ctx, env, args[1:])
	}

	printUsage(stderr)
	return fmt.Errorf("%w: неизвестная команда %q", errUsage, args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "использование: checkoutctl <команда> [аргументы]")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.usage)
	}
}
