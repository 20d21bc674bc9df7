package checkout_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/orderflow/internal/checkout"
	"github.com/dukex/orderflow/pkg/mocks"
	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence/memory"
	"github.com/dukex/orderflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*workflow.Engine, *checkout.Services, *mocks.MockEventBus) {
	t.Helper()

	store, err := memory.NewPersistence()
	require.NoError(t, err)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	bus.On("Register", checkout.OrderCompletedEvent, mock.Anything).Return()

	config := workflow.DefaultConfig()
	config.CompensationBackoff = time.Millisecond

	engine, err := workflow.NewEngine(store,
		workflow.WithConfig(config),
		workflow.WithPublisher(bus),
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	services := checkout.NewSampleServices()
	require.NoError(t, checkout.Register(engine, services, bus))

	return engine, services, bus
}

func order(id string) checkout.CheckoutInput {
	return checkout.CheckoutInput{
		OrderID:    id,
		CustomerID: "cus_1",
		Items: []checkout.LineItem{
			{SKU: "SKU-TSHIRT", Quantity: 2, PriceCents: 1500},
			{SKU: "SKU-MUG", Quantity: 1, PriceCents: 900},
		},
	}
}

func TestRegister(t *testing.T) {
	engine, services, bus := setup(t)

	names := []string{}
	for _, definition := range engine.Workflows() {
		names = append(names, definition.Name())
	}

	assert.Equal(t, []string{checkout.ApplyDiscountsWorkflowName, checkout.CheckoutWorkflowName}, names)
	bus.AssertCalled(t, "Register", checkout.OrderCompletedEvent, mock.Anything)

	err := checkout.Register(engine, services, nil)
	require.Error(t, err)
}

func TestCheckout_Completes(t *testing.T) {
	engine, services, bus := setup(t)

	result := workflow.Run[checkout.CheckoutInput, checkout.CheckoutOutput](t.Context(), engine, checkout.CheckoutWorkflowName, order("ord_1"))
	require.NoError(t, result.Err)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, int64(3900), result.Output.TotalCents)
	assert.NotEmpty(t, result.Output.Confirmation)

	assert.Equal(t, 98, services.Inventory.Available("SKU-TSHIRT"))
	assert.Equal(t, 49, services.Inventory.Available("SKU-MUG"))

	payment, ok := services.Payments.Get(result.Output.PaymentID)
	require.True(t, ok)
	assert.False(t, payment.Refunded)
	assert.Equal(t, int64(3900), payment.AmountCents)

	confirmed, ok := services.Orders.Get("ord_1")
	require.True(t, ok)
	assert.Equal(t, checkout.OrderStatusConfirmed, confirmed.Status)
	assert.Equal(t, result.Output.ReservationID, confirmed.ReservationID)

	var completed []checkout.OrderCompleted

	for _, event := range bus.Published() {
		if e, ok := event.(checkout.OrderCompleted); ok {
			completed = append(completed, e)
		}
	}

	require.Len(t, completed, 1)
	assert.Equal(t, "ord_1", completed[0].OrderID)
	assert.Equal(t, result.ExecutionID, completed[0].ExecutionID)
	assert.Equal(t, result.Output.Confirmation, completed[0].Confirmation)
}

func TestCheckout_DeclinedPaymentReleasesStock(t *testing.T) {
	engine, services, _ := setup(t)
	services.Payments.Decline("cus_1")

	result := workflow.Run[checkout.CheckoutInput, checkout.CheckoutOutput](t.Context(), engine, checkout.CheckoutWorkflowName, order("ord_2"))
	require.ErrorIs(t, result.Err, checkout.ErrPaymentDeclined)

	assert.Equal(t, models.ExecutionStatusCompensated, result.Status)
	assert.True(t, result.Compensated)
	assert.Equal(t, 100, services.Inventory.Available("SKU-TSHIRT"))
	assert.Zero(t, services.Inventory.Reservations())
}

func TestCheckout_RejectedOrderRefunds(t *testing.T) {
	engine, services, _ := setup(t)
	services.Orders.Reject("ord_3")

	result := workflow.Run[checkout.CheckoutInput, checkout.CheckoutOutput](t.Context(), engine, checkout.CheckoutWorkflowName, order("ord_3"))
	require.Error(t, result.Err)
	assert.Equal(t, models.ExecutionStatusCompensated, result.Status)

	payments := services.Payments.ForCustomer("cus_1")
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Refunded)
	assert.Equal(t, 50, services.Inventory.Available("SKU-MUG"))

	_, ok := services.Orders.Get("ord_3")
	assert.False(t, ok)
}

func TestCheckout_OutOfStockFailsWithoutCompensation(t *testing.T) {
	engine, services, _ := setup(t)

	in := order("ord_4")
	in.Items = []checkout.LineItem{{SKU: "SKU-POSTER", Quantity: 11, PriceCents: 500}}

	result := workflow.Run[checkout.CheckoutInput, checkout.CheckoutOutput](t.Context(), engine, checkout.CheckoutWorkflowName, in)
	require.ErrorIs(t, result.Err, checkout.ErrOutOfStock)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.False(t, result.Compensated)
	assert.Equal(t, 10, services.Inventory.Available("SKU-POSTER"))
}

func TestCheckout_InvalidInput(t *testing.T) {
	engine, _, _ := setup(t)

	result := workflow.Run[checkout.CheckoutInput, checkout.CheckoutOutput](t.Context(), engine, checkout.CheckoutWorkflowName, checkout.CheckoutInput{OrderID: "ord_5"})
	require.ErrorIs(t, result.Err, workflow.ErrInvalidInput)
	assert.Empty(t, result.ExecutionID)

	for _, input := range []string{
		`{"order_id": 5, "customer_id": "cus_1", "items": [{"sku": "SKU-MUG", "quantity": 1}]}`,
		`{"order_id": "ord_5", "customer_id": "cus_1", "items": []}`,
		`{"order_id": "ord_5", "customer_id": "cus_1", "items": [{"sku": "SKU-MUG", "quantity": 0}]}`,
	} {
		rejected := engine.RunJSON(t.Context(), checkout.CheckoutWorkflowName, json.RawMessage(input), workflow.WithIdempotencyKey("ord_5"))
		require.ErrorIs(t, rejected.Err, workflow.ErrInvalidInput, input)
		assert.Empty(t, rejected.ExecutionID, input)
	}

	// Rejected input spends none of the key's retries.
	valid, err := json.Marshal(order("ord_5"))
	require.NoError(t, err)

	accepted := engine.RunJSON(t.Context(), checkout.CheckoutWorkflowName, valid, workflow.WithIdempotencyKey("ord_5"))
	require.NoError(t, accepted.Err)
	assert.Equal(t, models.ExecutionStatusCompleted, accepted.Status)
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	engine, services, _ := setup(t)

	first := workflow.Run[checkout.CheckoutInput, checkout.CheckoutOutput](t.Context(), engine, checkout.CheckoutWorkflowName, order("ord_6"), workflow.WithIdempotencyKey("ord_6"))
	require.NoError(t, first.Err)

	second := workflow.Run[checkout.CheckoutInput, checkout.CheckoutOutput](t.Context(), engine, checkout.CheckoutWorkflowName, order("ord_6"), workflow.WithIdempotencyKey("ord_6"))
	require.NoError(t, second.Err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, 98, services.Inventory.Available("SKU-TSHIRT"))
}

func TestApplyDiscounts(t *testing.T) {
	engine, services, _ := setup(t)

	result := workflow.Run[checkout.ApplyDiscountsInput, checkout.ApplyDiscountsOutput](t.Context(), engine, checkout.ApplyDiscountsWorkflowName, checkout.ApplyDiscountsInput{
		CartID:     "cart_1",
		Codes:      []string{"WELCOME10", "SUMMER20"},
		MaxPercent: 40,
	})
	require.NoError(t, result.Err)

	assert.Equal(t, 30, result.Output.TotalPercent)
	assert.Len(t, result.Output.DiscountIDs, 2)
	assert.Len(t, services.Discounts.ForCart("cart_1"), 2)
}

func TestApplyDiscounts_CapExceededRemovesCreatedDiscounts(t *testing.T) {
	engine, services, _ := setup(t)

	result := workflow.Run[checkout.ApplyDiscountsInput, checkout.ApplyDiscountsOutput](t.Context(), engine, checkout.ApplyDiscountsWorkflowName, checkout.ApplyDiscountsInput{
		CartID:     "cart_2",
		Codes:      []string{"SUMMER20", "VIP30"},
		MaxPercent: 25,
	})
	require.ErrorIs(t, result.Err, checkout.ErrDiscountCapExceeded)

	assert.Equal(t, models.ExecutionStatusCompensated, result.Status)
	assert.Empty(t, services.Discounts.ForCart("cart_2"))
}

func TestApplyDiscounts_UnknownCodeKeepsNothing(t *testing.T) {
	engine, services, _ := setup(t)

	result := workflow.Run[checkout.ApplyDiscountsInput, checkout.ApplyDiscountsOutput](t.Context(), engine, checkout.ApplyDiscountsWorkflowName, checkout.ApplyDiscountsInput{
		CartID:     "cart_3",
		Codes:      []string{"WELCOME10", "BOGUS"},
		MaxPercent: 50,
	})
	require.ErrorIs(t, result.Err, checkout.ErrUnknownDiscount)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Empty(t, services.Discounts.ForCart("cart_3"))
}

func TestCheckout_WithoutEngine(t *testing.T) {
	services := checkout.NewSampleServices()
	services.Payments.Decline("cus_1")

	wf := checkout.NewCheckoutWorkflow(services)
	wctx := workflow.NewContext(wf.Name())

	result := wf.Execute(t.Context(), wctx, order("ord_7"))
	require.ErrorIs(t, result.Err, checkout.ErrPaymentDeclined)

	assert.True(t, result.Compensated)
	assert.Zero(t, services.Inventory.Reservations())
}
