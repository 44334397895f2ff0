package events

import "github.com/shopspring/decimal"

// Message is implemented only by the contract types in this file.
type Message interface {
	Topic() Topic
	// OrderRef is the order the message concerns; it is also the AMQP correlation id.
	OrderRef() string
	isMessage()
}

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Commands

type ValidateInventory struct {
	OrderID string `json:"orderId"`
	Items   []Item `json:"items"`
}

type ReserveInventory struct {
	OrderID string `json:"orderId"`
	Items   []Item `json:"items"`
}

// ReleaseInventory carries no items; the inventory service cannot tell what to restore.
type ReleaseInventory struct {
	OrderID string `json:"orderId"`
}

type ProcessPayment struct {
	OrderID string          `json:"orderId"`
	UserID  string          `json:"userId"`
	Amount  decimal.Decimal `json:"amount"`
}

// Events

type InventoryValidated struct {
	OrderID string `json:"orderId"`
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason"`
}

type InventoryReserved struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

type PaymentProcessed struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

type OrderCompleted struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type OrderFailed struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Reason      string          `json:"reason"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

func (ValidateInventory) Topic() Topic  { return TopicValidateInventory }
func (InventoryValidated) Topic() Topic { return TopicInventoryValidated }
func (ReserveInventory) Topic() Topic   { return TopicReserveInventory }
func (InventoryReserved) Topic() Topic  { return TopicInventoryReserved }
func (ReleaseInventory) Topic() Topic   { return TopicReleaseInventory }
func (ProcessPayment) Topic() Topic     { return TopicProcessPayment }
func (PaymentProcessed) Topic() Topic   { return TopicPaymentProcessed }
func (OrderCompleted) Topic() Topic     { return TopicOrderCompleted }
func (OrderFailed) Topic() Topic        { return TopicOrderFailed }

func (m ValidateInventory) OrderRef() string  { return m.OrderID }
func (m InventoryValidated) OrderRef() string { return m.OrderID }
func (m ReserveInventory) OrderRef() string   { return m.OrderID }
func (m InventoryReserved) OrderRef() string  { return m.OrderID }
func (m ReleaseInventory) OrderRef() string   { return m.OrderID }
func (m ProcessPayment) OrderRef() string     { return m.OrderID }
func (m PaymentProcessed) OrderRef() string   { return m.OrderID }
func (m OrderCompleted) OrderRef() string     { return m.OrderID }
func (m OrderFailed) OrderRef() string        { return m.OrderID }

func (ValidateInventory) isMessage()  {}
func (InventoryValidated) isMessage() {}
func (ReserveInventory) isMessage()   {}
func (InventoryReserved) isMessage()  {}
func (ReleaseInventory) isMessage()   {}
func (ProcessPayment) isMessage()     {}
func (PaymentProcessed) isMessage()   {}
func (OrderCompleted) isMessage()     {}
func (OrderFailed) isMessage()        {}
