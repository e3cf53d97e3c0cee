package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/storage"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
)

const (
	REPORT_LIMIT    = 25
	REPORT_FILENAME = "llm_bias_report.pdf"
)

type Generator struct {
	store   db.LogStore
	archive storage.ArtifactStore
	now     func() time.Time
}

// NewGenerator builds a report generator. archive may be nil.
func NewGenerator(store db.LogStore, archive storage.ArtifactStore) *Generator {
	return &Generator{store: store, archive: archive, now: time.Now}
}

// Generate renders the most recent audit records, newest first, and archives
// a copy when an artifact store is configured.
func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	records, err := g.store.Latest(ctx, REPORT_LIMIT)
	if err != nil {
		return nil, fmt.Errorf("load latest audit records: %w", err)
	}

	generatedAt := g.now().UTC()
	data, err := Render(records, generatedAt)
	if err != nil {
		return nil, err
	}

	if g.archive != nil {
		key := archiveKey(generatedAt)
		if location, err := g.archive.Put(ctx, key, data); err != nil {
			slog.Warn("[Report] Failed to archive report",
				slog.String("key", key),
				slog.String("error", err.Error()))
		} else {
			slog.Info("[Report] Report archived", slog.String("location", location))
		}
	}
	return data, nil
}

// archiveKey sorts by time and stays unique for reports generated within the
// same instant.
func archiveKey(generatedAt time.Time) string {
	return fmt.Sprintf("reports/%s-%s.pdf",
		generatedAt.Format("20060102T150405.000000000Z"), uuid.NewString())
}

func Render(records []models.AuditRecord, generatedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("LLM Bias Report", true)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "LLM Bias Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "Generated: "+generatedAt.Format(time.RFC1123), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Total records: %d", len(records)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	for i, r := range records {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 7, tr(fmt.Sprintf("%d. %s (%s)", i+1, r.Model, r.Type)), "B", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "", 9)
		line := func(label, value string) {
			pdf.MultiCell(0, 5, tr(label+": "+value), "", "L", false)
		}
		line("Timestamp", r.Timestamp.UTC().Format(time.RFC3339))
		line("Sentiment", r.Sentiment)
		line("Prompt", r.Prompt)
		line("Predictions", strings.Join(r.Predictions, ", "))
		if len(r.BiasFlags) == 0 {
			line("Bias flags", "none")
		} else {
			pdf.SetTextColor(180, 0, 0)
			line("Bias flags", strings.Join(r.BiasFlags, "; "))
			pdf.SetTextColor(0, 0, 0)
		}
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}
