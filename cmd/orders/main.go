package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Kasvit/orders-manager/internal/orders"
	"github.com/Kasvit/orders-manager/internal/refunds"
	"github.com/Kasvit/orders-manager/pkg/config"
	"github.com/Kasvit/orders-manager/pkg/db"
	"github.com/Kasvit/orders-manager/pkg/enums"
	pkgerrors "github.com/Kasvit/orders-manager/pkg/errors"
	"github.com/Kasvit/orders-manager/pkg/logger"
	"github.com/Kasvit/orders-manager/pkg/migrate"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "orders"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cmd := flag.String("cmd", "show", "command: create|show|refund|can-refund|health")
	orderID := flag.String("order", "", "order id (for show|refund|can-refund)")
	total := flag.Int("total", 0, "order total in cents (for create)")
	status := flag.String("status", "", "initial order status (for create, optional)")
	amount := flag.Int("amount", -1, "refund amount in cents; omit to refund the full balance")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "orders",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "migrations", err)

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersService, err := orders.NewService(ordersRepo)
	requireResource(ctx, logg, "orders service", err)

	refundsService, err := refunds.NewService(refunds.ServiceParams{
		Repo:                refunds.NewRepository(dbClient.DB()),
		Orders:              ordersRepo,
		Tx:                  dbClient,
		MaxAdmissionRetries: cfg.Refunds.MaxAdmissionRetries,
	})
	requireResource(ctx, logg, "refunds service", err)

	switch *cmd {
	case "create":
		input := orders.CreateOrderInput{TotalCents: *total}
		if *status != "" {
			parsed, err := enums.ParseOrderStatus(*status)
			if err != nil {
				fail(err)
			}
			input.Status = &parsed
		}
		order, err := ordersService.CreateOrder(ctx, input)
		if err != nil {
			fail(err)
		}
		logg.Info(logg.WithOrderID(ctx, order.ID.String()), "order created")
		printJSON(order)

	case "show":
		detail, err := ordersService.GetOrder(ctx, parseOrderID(*orderID))
		if err != nil {
			fail(err)
		}
		printJSON(detail)

	case "refund":
		refund, err := refundsService.RequestRefund(ctx, refunds.RequestRefundInput{
			OrderID:     parseOrderID(*orderID),
			AmountCents: optionalAmount(*amount),
		})
		if err != nil {
			fail(err)
		}
		refundCtx := logg.WithRefundID(logg.WithOrderID(ctx, refund.OrderID.String()), refund.ID.String())
		logg.Info(refundCtx, "refund recorded")
		printJSON(refund)

	case "can-refund":
		ok, err := ordersService.CanRefund(ctx, parseOrderID(*orderID), optionalAmount(*amount))
		if err != nil {
			fail(err)
		}
		fmt.Println(ok)

	case "health":
		if err := checkHealth(ctx, dbClient); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

func checkHealth(ctx context.Context, p db.Pinger) error {
	return p.Ping(ctx)
}

// optionalAmount maps the flag sentinel to the service contract, where a nil
// amount means the full remaining balance.
func optionalAmount(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

func parseOrderID(raw string) uuid.UUID {
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		fail(fmt.Errorf("invalid -order value: %w", err))
	}
	return id
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(out))
}

func fail(err error) {
	if typed := pkgerrors.As(err); typed != nil {
		meta := pkgerrors.MetadataFor(typed.Code())
		fmt.Fprintf(os.Stderr, "%s: %s\n", typed.Code(), meta.PublicMessage)
		if meta.DetailsAllowed && typed.Details() != nil {
			fmt.Fprintf(os.Stderr, "details: %v\n", typed.Details())
		}
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
