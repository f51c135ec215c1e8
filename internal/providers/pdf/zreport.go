package pdf

import (
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ZReportData is the closing snapshot of a cash session.
type ZReportData struct {
	SchoolName   string
	RegisterName string
	SessionID    string
	OpenedAt     string
	OpenedBy     string
	ClosedAt     string
	ClosedBy     string

	Lines      []ZReportLine
	Count      int
	GrandTotal string
}

type ZReportLine struct {
	Method string
	Count  int
	Amount string
}

func (p *PDFProvider) GenerateZReport(ctx context.Context, report ZReportData) (io.Reader, error) {
	m := maroto.New(pageConfig())

	m.AddRow(12,
		text.NewCol(8, report.SchoolName, props.Text{Size: 16, Style: fontstyle.Bold}),
		text.NewCol(4, "Z report", props.Text{Size: 16, Style: fontstyle.Bold, Align: align.Right}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Register: "+report.RegisterName, props.Text{Top: 0}),
			text.New("Session: "+report.SessionID, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Opened: "+report.OpenedAt+" by "+report.OpenedBy, props.Text{Top: 0, Align: align.Right}),
			text.New("Closed: "+report.ClosedAt+" by "+report.ClosedBy, props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Method", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Payments", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, l := range report.Lines {
		m.AddRow(8,
			text.NewCol(6, l.Method, props.Text{Size: 9}),
			text.NewCol(2, strconv.Itoa(l.Count), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(4, l.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(2, line.NewCol(12))
	m.AddRow(8,
		text.NewCol(6, "Grand total", props.Text{Size: 10, Style: fontstyle.Bold}),
		text.NewCol(2, strconv.Itoa(report.Count), props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(4, report.GrandTotal, props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
