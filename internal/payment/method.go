package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
)

// Request is the method-specific part of a checkout as the buyer sent it.
type Request struct {
	Method    string
	Phone     string
	Reference string
}

type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// Instructions tell the buyer what happens next.
type Instructions struct {
	Message     string       `json:"message"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	Details     string       `json:"instructions,omitempty"`
	BankDetails *BankDetails `json:"bank_details,omitempty"`
}

// Outcome is the result of settling an order with one method. Status is
// pending unless the method settled the order on the spot.
type Outcome struct {
	Status           domain.PaymentStatus
	ExternalRef      string
	PaymentReference string
	Instructions     Instructions
}

// Method is a closed set of payment methods: MobileMoney, PayPal and
// BankTransfer. New variants are added in Methods.Parse.
type Method interface {
	Kind() domain.PaymentMethod
	Settle(ctx context.Context, order *domain.Order) (Outcome, error)
	isMethod()
}

type MobileMoney struct {
	Phone   string
	gateway Gateway
}

func (MobileMoney) Kind() domain.PaymentMethod { return domain.PaymentMethodMobileMoney }

func (MobileMoney) isMethod() {}

// Settle sends the payment prompt. The gateway either settles right away
// (demo) or hands back a reference for the settlement callback to resolve.
func (m MobileMoney) Settle(ctx context.Context, order *domain.Order) (Outcome, error) {
	res, err := m.gateway.Push(ctx, PushRequest{
		Phone:      m.Phone,
		Amount:     order.TotalAmount,
		AccountRef: order.ID.String(),
	})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		Status:      domain.PaymentStatusPending,
		ExternalRef: res.CheckoutRequestID,
		Instructions: Instructions{
			Message: "Check your phone to approve the payment.",
			Details: res.Description,
		},
	}
	if res.Completed {
		out.Status = domain.PaymentStatusCompleted
		out.Instructions = Instructions{Message: res.Description}
	}
	return out, nil
}

type PayPal struct {
	checkoutURL string
}

func (PayPal) Kind() domain.PaymentMethod { return domain.PaymentMethodPayPal }

func (PayPal) isMethod() {}

func (p PayPal) Settle(ctx context.Context, order *domain.Order) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	token := fmt.Sprintf("demo-token-for-order-%s", order.ID)
	return Outcome{
		Status:      domain.PaymentStatusPending,
		ExternalRef: token,
		Instructions: Instructions{
			Message:     "PayPal payment initiated.",
			RedirectURL: p.checkoutURL + "?token=" + token,
		},
	}, nil
}

// BankTransfer waits for a manual transfer. The optional Reference is the
// buyer's own slip number; it is not unique, so it is stored as the payment
// reference and never as the external ref.
type BankTransfer struct {
	Reference string
	bank      BankDetails
	receiptTo string
}

func (BankTransfer) Kind() domain.PaymentMethod { return domain.PaymentMethodBankTransfer }

func (BankTransfer) isMethod() {}

func (b BankTransfer) Settle(ctx context.Context, order *domain.Order) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	bank := b.bank
	return Outcome{
		Status:           domain.PaymentStatusPending,
		PaymentReference: b.Reference,
		Instructions: Instructions{
			Message: "Please use the details below to complete your payment.",
			Details: fmt.Sprintf("After payment, please send the receipt to %s with your order ID %s.",
				b.receiptTo, order.ID),
			BankDetails: &bank,
		},
	}, nil
}

// Methods builds Method values from buyer input, carrying the dependencies
// each variant needs.
type Methods struct {
	Gateway           Gateway
	Bank              BankDetails
	ReceiptEmail      string
	PayPalCheckoutURL string
}

// Parse validates the method-specific input. It never touches storage, so a
// rejected request leaves no trace.
func (m Methods) Parse(req Request) (Method, error) {
	switch domain.PaymentMethod(strings.TrimSpace(req.Method)) {
	case domain.PaymentMethodMobileMoney:
		phone, err := NormalizePhone(req.Phone)
		if err != nil {
			return nil, err
		}
		return MobileMoney{Phone: phone, gateway: m.Gateway}, nil
	case domain.PaymentMethodPayPal:
		return PayPal{checkoutURL: m.PayPalCheckoutURL}, nil
	case domain.PaymentMethodBankTransfer:
		return BankTransfer{
			Reference: strings.TrimSpace(req.Reference),
			bank:      m.Bank,
			receiptTo: m.ReceiptEmail,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidPaymentInput, req.Method)
	}
}
