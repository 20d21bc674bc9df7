// Package checkout is an in-memory commerce domain used to exercise the
// workflow engine: inventory, payments, orders and discounts.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUnknownSKU          = errors.New("unknown sku")
	ErrOutOfStock          = errors.New("out of stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrPaymentDeclined     = errors.New("payment declined")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUnknownDiscount     = errors.New("unknown discount code")
)

type Inventory struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string][]LineItem
}

func NewInventory(stock map[string]int) *Inventory {
	inventory := &Inventory{
		stock:        make(map[string]int, len(stock)),
		reservations: make(map[string][]LineItem),
	}

	for sku, quantity := range stock {
		inventory.stock[sku] = quantity
	}

	return inventory
}

// Reserve takes every item out of stock or none of them.
func (i *Inventory) Reserve(_ context.Context, items []LineItem) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, item := range items {
		available, ok := i.stock[item.SKU]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownSKU, item.SKU)
		}

		if available < item.Quantity {
			return "", fmt.Errorf("%w: %s has %d, %d requested", ErrOutOfStock, item.SKU, available, item.Quantity)
		}
	}

	for _, item := range items {
		i.stock[item.SKU] -= item.Quantity
	}

	id := "rsv_" + uuid.New().String()
	i.reservations[id] = append([]LineItem(nil), items...)

	return id, nil
}

// Release puts a reservation back into stock. Releasing twice is an error.
func (i *Inventory) Release(_ context.Context, reservationID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	items, ok := i.reservations[reservationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}

	for _, item := range items {
		i.stock[item.SKU] += item.Quantity
	}

	delete(i.reservations, reservationID)

	return nil
}

func (i *Inventory) Available(sku string) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.stock[sku]
}

func (i *Inventory) Reservations() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.reservations)
}

type Payment struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Refunded    bool   `json:"refunded"`
}

type Payments struct {
	mu       sync.Mutex
	payments map[string]*Payment
	declined map[string]bool
}

func NewPayments() *Payments {
	return &Payments{
		payments: make(map[string]*Payment),
		declined: make(map[string]bool),
	}
}

// Decline makes every future charge for customerID fail.
func (p *Payments) Decline(customerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.declined[customerID] = true
}

func (p *Payments) Charge(_ context.Context, customerID string, amountCents int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.declined[customerID] {
		return "", fmt.Errorf("%w: customer %s", ErrPaymentDeclined, customerID)
	}

	payment := &Payment{
		ID:          "pay_" + uuid.New().String(),
		CustomerID:  customerID,
		AmountCents: amountCents,
	}
	p.payments[payment.ID] = payment

	return payment.ID, nil
}

func (p *Payments) Refund(_ context.Context, paymentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	payment, ok := p.payments[paymentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}

	payment.Refunded = true

	return nil
}

func (p *Payments) Get(paymentID string) (Payment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payment, ok := p.payments[paymentID]
	if !ok {
		return Payment{}, false
	}

	return *payment, true
}

func (p *Payments) ForCustomer(customerID string) []Payment {
	p.mu.Lock()
	defer p.mu.Unlock()

	payments := []Payment{}

	for _, payment := range p.payments {
		if payment.CustomerID == customerID {
			payments = append(payments, *payment)
		}
	}

	return payments
}

type OrderStatus string

const (
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID            string      `json:"id"`
	CustomerID    string      `json:"customer_id"`
	ReservationID string      `json:"reservation_id"`
	PaymentID     string      `json:"payment_id"`
	TotalCents    int64       `json:"total_cents"`
	Status        OrderStatus `json:"status"`
	Confirmation  string      `json:"confirmation"`
}

type Orders struct {
	mu       sync.Mutex
	orders   map[string]*Order
	rejected map[string]bool
}

func NewOrders() *Orders {
	return &Orders{
		orders:   make(map[string]*Order),
		rejected: make(map[string]bool),
	}
}

// Reject makes confirming orderID fail.
func (o *Orders) Reject(orderID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.rejected[orderID] = true
}

func (o *Orders) Confirm(_ context.Context, order Order) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.rejected[order.ID] {
		return "", fmt.Errorf("order %s rejected by fulfillment", order.ID)
	}

	order.Status = OrderStatusConfirmed
	order.Confirmation = "conf_" + uuid.New().String()[:8]
	o.orders[order.ID] = &order

	return order.Confirmation, nil
}

func (o *Orders) Cancel(_ context.Context, orderID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, ok := o.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	order.Status = OrderStatusCancelled

	return nil
}

func (o *Orders) Get(orderID string) (Order, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, ok := o.orders[orderID]
	if !ok {
		return Order{}, false
	}

	return *order, true
}

type Discount struct {
	ID      string `json:"id"`
	CartID  string `json:"cart_id"`
	Code    string `json:"code"`
	Percent int    `json:"percent"`
}

type Discounts struct {
	mu      sync.Mutex
	codes   map[string]int
	applied map[string]Discount
}

// NewDiscounts creates the discount service with the known codes and their percentage.
func NewDiscounts(codes map[string]int) *Discounts {
	discounts := &Discounts{
		codes:   make(map[string]int, len(codes)),
		applied: make(map[string]Discount),
	}

	for code, percent := range codes {
		discounts.codes[code] = percent
	}

	return discounts
}

func (d *Discounts) Apply(_ context.Context, cartID, code string) (Discount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	percent, ok := d.codes[code]
	if !ok {
		return Discount{}, fmt.Errorf("%w: %s", ErrUnknownDiscount, code)
	}

	discount := Discount{
		ID:      "dsc_" + uuid.New().String(),
		CartID:  cartID,
		Code:    code,
		Percent: percent,
	}
	d.applied[discount.ID] = discount

	return discount, nil
}

// Remove deletes the given discounts. Unknown ids are ignored.
func (d *Discounts) Remove(_ context.Context, ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		delete(d.applied, id)
	}
}

func (d *Discounts) ForCart(cartID string) []Discount {
	d.mu.Lock()
	defer d.mu.Unlock()

	discounts := []Discount{}

	for _, discount := range d.applied {
		if discount.CartID == cartID {
			discounts = append(discounts, discount)
		}
	}

	return discounts
}

// Services bundles the domain services the workflows run against.
type Services struct {
	Inventory *Inventory
	Payments  *Payments
	Orders    *Orders
	Discounts *Discounts
}

// NewSampleServices returns services seeded with a small catalog.
func NewSampleServices() *Services {
	return &Services{
		Inventory: NewInventory(map[string]int{
			"SKU-TSHIRT": 100,
			"SKU-MUG":    50,
			"SKU-POSTER": 10,
		}),
		Payments: NewPayments(),
		Orders:   NewOrders(),
		Discounts: NewDiscounts(map[string]int{
			"WELCOME10": 10,
			"SUMMER20":  20,
			"VIP30":     30,
		}),
	}
}
