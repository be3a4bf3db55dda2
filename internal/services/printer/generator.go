package printer

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// CardLabel is one label on a sheet: the barcode encoded in the QR code plus
// the human-readable lines printed next to it.
type CardLabel struct {
	Barcode    string `json:"barcode"`
	Name       string `json:"name"`
	SetName    string `json:"setName"`
	CardNumber string `json:"cardNumber"`
	Condition  string `json:"condition"`
}

// SheetConfig holds the layout of a label sheet. Defaults match Avery 5160
// style sheets (3 columns x 10 rows on A4).
type SheetConfig struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	MarginTop  float64 `json:"marginTop"`
	MarginLeft float64 `json:"marginLeft"`
	GapX       float64 `json:"gapX"`
	GapY       float64 `json:"gapY"`
}

// DefaultSheetConfig returns the standard layout used for card labels
func DefaultSheetConfig() SheetConfig {
	return SheetConfig{
		Cols:       3,
		Rows:       10,
		MarginTop:  12.0,
		MarginLeft: 7.0,
		GapX:       2.5,
		GapY:       0.0,
	}
}

// GenerateCardLabelPNG renders a single card barcode as a QR code image,
// suitable for on-demand reprints from the scan screen.
func GenerateCardLabelPNG(barcode string) ([]byte, error) {
	if barcode == "" {
		return nil, fmt.Errorf("barcode is required")
	}
	png, err := qrcode.Encode(barcode, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}

// GenerateLabelSheetPDF creates an A4 PDF with one QR label per card. Labels
// are laid out left to right, top to bottom, spilling onto new pages.
func GenerateLabelSheetPDF(labels []CardLabel, cfg SheetConfig) ([]byte, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels to print")
	}
	if cfg.Cols <= 0 || cfg.Rows <= 0 {
		cfg = DefaultSheetConfig()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Arial", "B", 10)

	pageWidth, pageHeight := 210.0, 297.0

	totalGapX := float64(cfg.Cols-1) * cfg.GapX
	totalGapY := float64(cfg.Rows-1) * cfg.GapY

	availW := pageWidth - (cfg.MarginLeft * 2)
	availH := pageHeight - (cfg.MarginTop * 2)

	labelW := (availW - totalGapX) / float64(cfg.Cols)
	labelH := (availH - totalGapY) / float64(cfg.Rows)

	labelsPerPage := cfg.Cols * cfg.Rows

	for i, label := range labels {
		if i%labelsPerPage == 0 {
			pdf.AddPage()
		}

		indexOnPage := i % labelsPerPage
		col := indexOnPage % cfg.Cols
		row := indexOnPage / cfg.Cols

		x := cfg.MarginLeft + float64(col)*(labelW+cfg.GapX)
		y := cfg.MarginTop + float64(row)*(labelH+cfg.GapY)

		qrPng, err := qrcode.Encode(label.Barcode, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("failed to encode QR for %s: %w", label.Barcode, err)
		}

		imgName := fmt.Sprintf("qr_%d", i)
		imgOptions := gofpdf.ImageOptions{
			ImageType: "PNG",
			ReadDpi:   true,
		}
		pdf.RegisterImageOptionsReader(imgName, imgOptions, bytes.NewReader(qrPng))

		// QR on the left edge of the label, text lines to the right
		qrSize := labelH * 0.8
		if qrSize > labelW*0.4 {
			qrSize = labelW * 0.4
		}
		qrX := x + 1
		qrY := y + (labelH-qrSize)/2
		pdf.ImageOptions(imgName, qrX, qrY, qrSize, qrSize, false, imgOptions, 0, "")

		textX := qrX + qrSize + 2
		textW := labelW - qrSize - 4

		pdf.SetXY(textX, y+3)
		pdf.SetFontSize(8)
		pdf.CellFormat(textW, 4, truncate(label.Name, 28), "", 0, "L", false, 0, "")

		pdf.SetXY(textX, y+7.5)
		pdf.SetFontSize(6)
		setLine := label.SetName
		if label.CardNumber != "" {
			setLine = fmt.Sprintf("%s #%s", label.SetName, label.CardNumber)
		}
		pdf.CellFormat(textW, 3, truncate(setLine, 36), "", 0, "L", false, 0, "")

		pdf.SetXY(textX, y+11)
		pdf.SetFontSize(6)
		condLine := label.Barcode
		if label.Condition != "" {
			condLine = fmt.Sprintf("%s  %s", label.Condition, label.Barcode)
		}
		pdf.CellFormat(textW, 3, condLine, "", 0, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "~"
}
