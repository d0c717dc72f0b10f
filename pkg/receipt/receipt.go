// Package receipt renders a one-page booking receipt PDF with a QR code of
// the booking number.
package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/tripmarket/marketplace-backend/pkg/money"
)

// maxGuestLines keeps the receipt on a single page
const maxGuestLines = 8

// Line is one priced row of the receipt
type Line struct {
	Label  string
	Amount int64
}

// Data is everything printed on a receipt
type Data struct {
	BookingNumber string
	Status        string
	TripTitle     string
	VendorName    string
	DepartureDate time.Time
	TripEndDate   time.Time
	Guests        []string
	Lines         []Line
	Discount      int64
	Total         int64
	Currency      string
	PromoCode     string
	// VerifyURL is encoded in the QR code when set; otherwise the booking number is
	VerifyURL string
	IssuedAt  time.Time
}

// Render produces the PDF bytes
func Render(d Data) ([]byte, error) {
	if d.BookingNumber == "" {
		return nil, errors.New("receipt: booking number is required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Booking receipt "+d.BookingNumber, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.Cell(0, 12, "BOOKING RECEIPT")
	pdf.Ln(14)

	pdf.SetDrawColor(220, 220, 220)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(6)

	// Summary box with the QR code to its right
	yStart := pdf.GetY()
	pdf.SetFillColor(245, 245, 245)
	pdf.Rect(15, yStart, 120, 48, "F")

	pdf.SetXY(20, yStart+6)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 7, "SUMMARY")
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 11)
	summary := []string{
		"Booking: " + d.BookingNumber,
		"Status: " + d.Status,
		"Issued: " + d.IssuedAt.UTC().Format("2006-01-02 15:04 MST"),
	}
	if d.PromoCode != "" {
		summary = append(summary, "Promo code: "+d.PromoCode)
	}
	for _, s := range summary {
		pdf.SetX(20)
		pdf.Cell(0, 6, s)
		pdf.Ln(6)
	}

	qrContent := d.BookingNumber
	if d.VerifyURL != "" {
		qrContent = d.VerifyURL
	}
	qrBytes, err := qrcode.Encode(qrContent, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	pdf.RegisterImageOptionsReader("qr", gofpdf.ImageOptions{ImageType: "png"}, bytes.NewReader(qrBytes))
	pdf.ImageOptions("qr", 145, yStart, 45, 0, false, gofpdf.ImageOptions{ImageType: "png"}, 0, "")

	pdf.SetY(yStart + 56)

	sectionTitle(pdf, "TRIP")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, d.TripTitle)
	pdf.Ln(6)
	if d.VendorName != "" {
		pdf.Cell(0, 6, "Operated by "+d.VendorName)
		pdf.Ln(6)
	}
	pdf.Cell(0, 6, fmt.Sprintf("%s to %s", d.DepartureDate.Format("Mon 02 Jan 2006"), d.TripEndDate.Format("Mon 02 Jan 2006")))
	pdf.Ln(10)

	sectionTitle(pdf, "GUESTS")
	pdf.SetFont("Helvetica", "", 11)
	for i, g := range d.Guests {
		if i >= maxGuestLines {
			pdf.Cell(0, 6, fmt.Sprintf("... and %d more", len(d.Guests)-maxGuestLines))
			pdf.Ln(6)
			break
		}
		pdf.Cell(0, 6, fmt.Sprintf("%d. %s", i+1, g))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	sectionTitle(pdf, "PAYMENT")
	pdf.SetFont("Helvetica", "", 11)
	for _, l := range d.Lines {
		amountRow(pdf, l.Label, money.FormatMinor(l.Amount), d.Currency)
	}
	if d.Discount > 0 {
		amountRow(pdf, "Discount", "-"+money.FormatMinor(d.Discount), d.Currency)
	}
	pdf.SetFont("Helvetica", "B", 12)
	amountRow(pdf, "Total paid", money.FormatMinor(d.Total), d.Currency)

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, 285, 195, 285)
	pdf.SetY(288)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, "Keep this receipt. Present the QR code at check-in.", "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func sectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(0, 8, title, "", 1, "L", true, 0, "")
	pdf.Ln(2)
}

func amountRow(pdf *gofpdf.Fpdf, label, amount, currency string) {
	pdf.CellFormat(130, 7, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, amount+" "+currency, "", 1, "R", false, 0, "")
}
