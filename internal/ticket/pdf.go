package ticket

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

var tierLabels = map[model.DurationTier]string{
	model.Duration1Day:    "1 day",
	model.Duration30Days:  "30 days",
	model.Duration6Months: "6 months",
	model.Duration1Year:   "1 year",
}

// RenderPDF writes the printable ticket: id, display window and the QR
// that links back to the ticket lookup.
func RenderPDF(w io.Writer, t model.Ticket) error {
	pdf := fpdf.New("P", "mm", "A5", "")
	pdf.SetTitle("Ticket "+t.TicketID, false)
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Display Ticket", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Ticket", t.TicketID},
		{"Kiosk", t.KioskID},
		{"Duration", tierLabels[t.Duration]},
		{"From", t.DisplayWindow.Start.Format("2006-01-02 15:04 MST")},
		{"Until", t.DisplayWindow.End.Format("2006-01-02 15:04 MST")},
	}
	for _, r := range rows {
		pdf.CellFormat(25, 7, r[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, r[1], "", 1, "L", false, 0, "")
	}

	if png, err := decodeQR(t.QRCode); err == nil {
		opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("qr", 44, pdf.GetY()+4, 50, 50, false, opts, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render ticket pdf: %w", err)
	}
	return pdf.Output(w)
}
