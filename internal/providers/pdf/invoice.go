package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/core/entity"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type InvoiceData struct {
	SchoolName    string
	InvoiceNumber string
	IssueDate     string
	DueDate       string
	Period        string
	StudentRef    string
	Concept       string
	Status        string

	Items []InvoiceItem

	Subtotal string
	Discount string
	Tax      string
	LateFee  string
	Total    string
	Paid     string
	Balance  string
}

type InvoiceItem struct {
	Code        string
	Description string
	Amount      string
}

func (p *PDFProvider) GenerateInvoice(ctx context.Context, invoice InvoiceData) (io.Reader, error) {
	m := maroto.New(pageConfig())

	m.AddRow(12,
		text.NewCol(8, invoice.SchoolName, props.Text{Size: 16, Style: fontstyle.Bold}),
		text.NewCol(4, "Invoice", props.Text{Size: 16, Style: fontstyle.Bold, Align: align.Right}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Invoice number: "+invoice.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+invoice.IssueDate, props.Text{Top: 5}),
			text.New("Date due: "+invoice.DueDate, props.Text{Top: 10}),
			text.New("Billing period: "+invoice.Period, props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Student", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(invoice.StudentRef, props.Text{Top: 5, Align: align.Right}),
			text.New(invoice.Concept, props.Text{Top: 10, Align: align.Right}),
			text.New("Status: "+invoice.Status, props.Text{Top: 15, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(3, "Code", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range invoice.Items {
		m.AddRow(8,
			text.NewCol(3, item.Code, props.Text{Size: 9}),
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(3, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(4)
	totalRow(m, "Subtotal", invoice.Subtotal, false)
	totalRow(m, "Discount", invoice.Discount, false)
	totalRow(m, "Tax", invoice.Tax, false)
	totalRow(m, "Late fee", invoice.LateFee, false)
	totalRow(m, "Total", invoice.Total, false)
	totalRow(m, "Paid", invoice.Paid, false)
	totalRow(m, "Balance due", invoice.Balance, true)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

func pageConfig() *entity.Config {
	return config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
}

func totalRow(m core.Maroto, label, value string, bold bool) {
	style := fontstyle.Normal
	if bold {
		style = fontstyle.Bold
	}
	m.AddRow(7,
		col.New(7),
		text.NewCol(2, label, props.Text{Size: 9, Style: style}),
		text.NewCol(3, value, props.Text{Size: 9, Style: style, Align: align.Right}),
	)
}
