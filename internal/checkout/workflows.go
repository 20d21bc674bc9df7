package checkout

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/events"
	"github.com/dukex/orderflow/pkg/log"
	"github.com/dukex/orderflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
)

const (
	CheckoutWorkflowName       = "checkout"
	ApplyDiscountsWorkflowName = "apply-discounts"
)

var ErrDiscountCapExceeded = errors.New("discount cap exceeded")

var (
	ReservationKey = workflow.NewKey[string]("reservation_id")
	PaymentKey     = workflow.NewKey[string]("payment_id")
)

var validate = validator.New()

//go:embed schemas/checkout_input.json
var checkoutInputSchema string

type LineItem struct {
	SKU        string `json:"sku" validate:"required"`
	Quantity   int    `json:"quantity" validate:"min=1"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
}

type CheckoutInput struct {
	OrderID    string     `json:"order_id" validate:"required"`
	CustomerID string     `json:"customer_id" validate:"required"`
	Items      []LineItem `json:"items" validate:"required,min=1,dive"`
}

func (in CheckoutInput) Validate() error {
	return validate.Struct(in)
}

func (in CheckoutInput) TotalCents() int64 {
	var total int64

	for _, item := range in.Items {
		total += item.PriceCents * int64(item.Quantity)
	}

	return total
}

type CheckoutOutput struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
	PaymentID     string `json:"payment_id"`
	Confirmation  string `json:"confirmation"`
	TotalCents    int64  `json:"total_cents"`
}

type charge struct {
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
}

// NewCheckoutWorkflow reserves stock, charges the customer and confirms the
// order. A failure after the reservation releases it; a failure after the
// charge also refunds it.
func NewCheckoutWorkflow(services *Services) *workflow.Workflow[CheckoutInput, CheckoutOutput] {
	reserve := workflow.NewStep("reserve-inventory", func(ctx context.Context, wctx *workflow.Context, in CheckoutInput) (workflow.StepResponse[string, string], error) {
		id, err := services.Inventory.Reserve(ctx, in.Items)
		if err != nil {
			return workflow.StepResponse[string, string]{}, err
		}

		ReservationKey.Set(wctx, id)

		return workflow.RespondWithCompensation(id, id), nil
	}).WithCompensation(func(ctx context.Context, _ *workflow.Context, reservationID string) error {
		return services.Inventory.Release(ctx, reservationID)
	})

	pay := workflow.NewStep("charge-payment", func(ctx context.Context, wctx *workflow.Context, in charge) (workflow.StepResponse[string, string], error) {
		id, err := services.Payments.Charge(ctx, in.CustomerID, in.AmountCents)
		if err != nil {
			return workflow.StepResponse[string, string]{}, err
		}

		PaymentKey.Set(wctx, id)

		return workflow.RespondWithCompensation(id, id), nil
	}).WithCompensation(func(ctx context.Context, _ *workflow.Context, paymentID string) error {
		return services.Payments.Refund(ctx, paymentID)
	})

	confirm := workflow.SimpleStep("confirm-order", func(ctx context.Context, _ *workflow.Context, order Order) (string, error) {
		return services.Orders.Confirm(ctx, order)
	}).WithCompensation(func(ctx context.Context, _ *workflow.Context, order Order) error {
		return services.Orders.Cancel(ctx, order.ID)
	})

	return workflow.New(CheckoutWorkflowName, func(ctx context.Context, wctx *workflow.Context, in CheckoutInput) (CheckoutOutput, error) {
		err := in.Validate()
		if err != nil {
			return CheckoutOutput{}, fmt.Errorf("%w: %v", workflow.ErrInvalidInput, err)
		}

		total := in.TotalCents()

		reservationID, err := workflow.RunStep(ctx, wctx, reserve, in)
		if err != nil {
			return CheckoutOutput{}, err
		}

		paymentID, err := workflow.RunStep(ctx, wctx, pay, charge{CustomerID: in.CustomerID, AmountCents: total})
		if err != nil {
			return CheckoutOutput{}, err
		}

		confirmation, err := workflow.RunStep(ctx, wctx, confirm, Order{
			ID:            in.OrderID,
			CustomerID:    in.CustomerID,
			ReservationID: reservationID,
			PaymentID:     paymentID,
			TotalCents:    total,
		})
		if err != nil {
			return CheckoutOutput{}, err
		}

		event := OrderCompleted{
			BaseEvent:    events.NewBaseEvent(OrderCompletedEvent, wctx.ExecutionID, wctx.WorkflowName, wctx.CorrelationID),
			OrderID:      in.OrderID,
			CustomerID:   in.CustomerID,
			PaymentID:    paymentID,
			Confirmation: confirmation,
			TotalCents:   total,
		}

		err = wctx.Publish(ctx, event)
		if err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Failed to publish order completed", "order_id", in.OrderID, "error", err)
		}

		return CheckoutOutput{
			OrderID:       in.OrderID,
			ReservationID: reservationID,
			PaymentID:     paymentID,
			Confirmation:  confirmation,
			TotalCents:    total,
		}, nil
	},
		workflow.WithDescription("Reserve inventory, charge payment and confirm an order"),
		workflow.WithStepCount(3),
		workflow.WithMaxRetries(3),
		workflow.WithTimeout(30*time.Second),
		workflow.WithInputSchema(checkoutInputSchema),
	)
}

type ApplyDiscountsInput struct {
	CartID string   `json:"cart_id" validate:"required"`
	Codes  []string `json:"codes" validate:"required,min=1,dive,required"`

	// MaxPercent caps the combined discount.
	MaxPercent int `json:"max_percent" validate:"min=1,max=100"`
}

func (in ApplyDiscountsInput) Validate() error {
	return validate.Struct(in)
}

type ApplyDiscountsOutput struct {
	CartID       string   `json:"cart_id"`
	DiscountIDs  []string `json:"discount_ids"`
	TotalPercent int      `json:"total_percent"`
}

// NewApplyDiscountsWorkflow applies every code to a cart and checks the cap.
// Rolling back removes exactly the discounts that were created.
func NewApplyDiscountsWorkflow(services *Services) *workflow.Workflow[ApplyDiscountsInput, ApplyDiscountsOutput] {
	create := workflow.NewStep("create-discounts", func(ctx context.Context, _ *workflow.Context, in ApplyDiscountsInput) (workflow.StepResponse[[]Discount, []string], error) {
		created := make([]Discount, 0, len(in.Codes))
		ids := make([]string, 0, len(in.Codes))

		for _, code := range in.Codes {
			discount, err := services.Discounts.Apply(ctx, in.CartID, code)
			if err != nil {
				services.Discounts.Remove(ctx, ids)

				return workflow.StepResponse[[]Discount, []string]{}, err
			}

			created = append(created, discount)
			ids = append(ids, discount.ID)
		}

		return workflow.RespondWithCompensation(created, ids), nil
	}).WithCompensation(func(ctx context.Context, _ *workflow.Context, ids []string) error {
		services.Discounts.Remove(ctx, ids)

		return nil
	})

	check := workflow.SimpleStep("check-discount-cap", func(_ context.Context, _ *workflow.Context, in capCheck) (int, error) {
		total := 0
		for _, discount := range in.Discounts {
			total += discount.Percent
		}

		if total > in.MaxPercent {
			return 0, fmt.Errorf("%w: %d%% over %d%%", ErrDiscountCapExceeded, total, in.MaxPercent)
		}

		return total, nil
	})

	return workflow.New(ApplyDiscountsWorkflowName, func(ctx context.Context, wctx *workflow.Context, in ApplyDiscountsInput) (ApplyDiscountsOutput, error) {
		err := in.Validate()
		if err != nil {
			return ApplyDiscountsOutput{}, fmt.Errorf("%w: %v", workflow.ErrInvalidInput, err)
		}

		discounts, err := workflow.RunStep(ctx, wctx, create, in)
		if err != nil {
			return ApplyDiscountsOutput{}, err
		}

		total, err := workflow.RunStep(ctx, wctx, check, capCheck{Discounts: discounts, MaxPercent: in.MaxPercent})
		if err != nil {
			return ApplyDiscountsOutput{}, err
		}

		ids := make([]string, 0, len(discounts))
		for _, discount := range discounts {
			ids = append(ids, discount.ID)
		}

		return ApplyDiscountsOutput{CartID: in.CartID, DiscountIDs: ids, TotalPercent: total}, nil
	},
		workflow.WithDescription("Apply discount codes to a cart within a cap"),
		workflow.WithStepCount(2),
	)
}

type capCheck struct {
	Discounts  []Discount `json:"discounts"`
	MaxPercent int        `json:"max_percent"`
}

// Register adds the checkout workflows to engine and teaches bus to decode
// their domain events. bus may be nil.
func Register(engine *workflow.Engine, services *Services, bus eventbus.EventBus) error {
	if bus != nil {
		bus.Register(OrderCompletedEvent, func() any { return &OrderCompleted{} })
	}

	return engine.Register(NewCheckoutWorkflow(services), NewApplyDiscountsWorkflow(services))
}
