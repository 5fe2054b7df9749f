package pdf

import (
	"context"
	"errors"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrEmptyReceipt = errors.New("empty_receipt")

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) RenderReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if receipt.ReceiptNumber == "" || receipt.CourseTitle == "" {
		return nil, ErrEmptyReceipt
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, receipt.Issuer, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Receipt number: "+receipt.ReceiptNumber, props.Text{Top: 0}),
			text.New("Purchased: "+receipt.PurchasedAt, props.Text{Top: 4}),
			text.New("Payment method: "+receipt.PaymentMethod, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Billed to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(receipt.BuyerName, props.Text{Top: 5, Align: align.Right}),
			text.New(receipt.BuyerEmail, props.Text{Top: 9, Align: align.Right}),
		),
	)

	m.AddRow(4, line.NewCol(12))

	m.AddRow(10,
		text.NewCol(8, "Course", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		text.NewCol(8, receipt.CourseTitle, props.Text{Size: 9}),
		text.NewCol(4, receipt.Total, props.Text{Size: 9, Align: align.Right}),
	)

	if len(receipt.Installments) > 0 {
		m.AddRow(12,
			text.NewCol(12, "Installment schedule", props.Text{Style: fontstyle.Bold, Size: 11, Top: 4}),
		)
		m.AddRow(8,
			text.NewCol(5, "Installment", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, "Due", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(2, "Status", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		)
		for _, item := range receipt.Installments {
			m.AddRow(8,
				text.NewCol(5, item.Description, props.Text{Size: 9}),
				text.NewCol(3, item.DueDate, props.Text{Size: 9}),
				text.NewCol(2, item.Status, props.Text{Size: 9}),
				text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
			)
		}
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Paid", props.Text{Size: 9}),
		text.NewCol(2, receipt.PaidSoFar, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Outstanding", props.Text{Size: 9}),
		text.NewCol(2, receipt.Outstanding, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
