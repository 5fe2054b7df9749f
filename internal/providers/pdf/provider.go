package pdf

import (
	"context"
	"fmt"
	"time"

	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("pdf.provider",
	fx.Provide(New),
)

// Provider renders purchase documents.
type Provider interface {
	RenderReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

type ReceiptLine struct {
	Description string
	DueDate     string
	Status      string
	Amount      string
}

type ReceiptData struct {
	Issuer        string
	ReceiptNumber string
	PurchasedAt   string
	PaymentMethod string

	BuyerName  string
	BuyerEmail string

	CourseTitle string
	Total       string

	// Installments is empty for one-off payments.
	Installments []ReceiptLine
	PaidSoFar    string
	Outstanding  string
}

// NewReceiptData builds the printable view of a purchase.
func NewReceiptData(issuer string, view purchasedomain.View, buyer userdomain.User) ReceiptData {
	currency := view.Currency
	data := ReceiptData{
		Issuer:        issuer,
		ReceiptNumber: fmt.Sprintf("CM-%s", view.ID.String()),
		PurchasedAt:   view.PurchasedAt.UTC().Format(time.DateOnly),
		PaymentMethod: view.PaymentMethod,
		BuyerName:     buyer.Name,
		BuyerEmail:    buyer.Email,
		CourseTitle:   view.CourseSnapshot.Data().Title,
		Total:         formatAmount(view.Price, currency),
	}

	plan := view.Plan()
	if plan == nil {
		data.PaidSoFar = data.Total
		data.Outstanding = formatAmount(0, currency)
		return data
	}
	var paid, outstanding int64
	for i, item := range plan.Schedule {
		data.Installments = append(data.Installments, ReceiptLine{
			Description: fmt.Sprintf("Installment %d of %d", i+1, plan.InstallmentsCount),
			DueDate:     item.DueDate.UTC().Format(time.DateOnly),
			Status:      string(item.Status),
			Amount:      formatAmount(item.Amount, currency),
		})
		if item.PaidAt != nil {
			paid += item.Amount
		} else {
			outstanding += item.Amount
		}
	}
	data.PaidSoFar = formatAmount(paid, currency)
	data.Outstanding = formatAmount(outstanding, currency)
	return data
}

func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%d %s", amount, currency)
}
