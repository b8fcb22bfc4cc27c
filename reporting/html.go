package reporting

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/ethereum-optimism/infra/op-coverage/templates"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

const HTMLReportTemplate = "report.html.tmpl"

//go:embed templates/*
var templateFS embed.FS

// HTMLFormatter renders a record as a self-contained HTML document.
type HTMLFormatter struct {
	template *template.Template
}

// HTMLReportData is the template input.
type HTMLReportData struct {
	*Record
	Legend []LegendRow
}

// LegendRow describes the coverage range of one band.
type LegendRow struct {
	Band  types.Band
	Range string
}

// NewHTMLFormatter parses the embedded report template.
func NewHTMLFormatter() (*HTMLFormatter, error) {
	content, err := templateFS.ReadFile("templates/" + HTMLReportTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to read HTML template: %w", err)
	}
	tmpl, err := template.New("report").Funcs(templates.GetTemplateFunc()).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}
	return &HTMLFormatter{template: tmpl}, nil
}

// Format renders rec.
func (hf *HTMLFormatter) Format(rec *Record) (string, error) {
	th := rec.Summary.Thresholds
	data := HTMLReportData{
		Record: rec,
		Legend: []LegendRow{
			{Band: types.BandPoor, Range: fmt.Sprintf("below %.1f%%", th.Minimum)},
			{Band: types.BandAcceptable, Range: fmt.Sprintf("%.1f%% to %.1f%%", th.Minimum, th.Target)},
			{Band: types.BandGood, Range: fmt.Sprintf("%.1f%% to %.1f%%", th.Target, th.Excellent)},
			{Band: types.BandExcellent, Range: fmt.Sprintf("%.1f%% and above", th.Excellent)},
			{Band: types.BandNoData, Range: "no total reported"},
		},
	}

	var buf bytes.Buffer
	if err := hf.template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute HTML template: %w", err)
	}
	return buf.String(), nil
}
