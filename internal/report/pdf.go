package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// PDFRenderer prints an HTML rendition of the snapshot through headless
// Chromium.
type PDFRenderer struct {
	cfg Config
}

func NewPDFRenderer(cfg Config) PDFRenderer {
	return PDFRenderer{cfg: cfg}
}

func (PDFRenderer) ContentType() string { return "application/pdf" }

// Render returns an error when Chromium is unavailable; the scheduler marks
// the artifact FAILED.
func (r PDFRenderer) Render(ctx context.Context, reportType domain.ReportType, snap Snapshot) ([]byte, error) {
	snap.Type = reportType
	html, err := r.renderHTML(snap)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.cfg.PDFChromiumPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.cfg.PDFChromiumPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	timeout := r.cfg.PDFTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	var pdf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate("data:text/html,"+url.PathEscape(html)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, perr := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if perr == nil {
				pdf = buf
			}
			return perr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	return pdf, nil
}

func (r PDFRenderer) renderHTML(snap Snapshot) (string, error) {
	tz, err := time.LoadLocation(r.cfg.PDFTimeZone)
	if err != nil {
		tz = time.UTC
	}
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"ts": func(t time.Time) string { return t.In(tz).Format("2006-01-02 15:04 MST") },
		"short": func(s string) string {
			if len(s) > 16 {
				return s[:16] + "…"
			}
			return s
		},
	}).Parse(reportTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, snap); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var reportTemplate = `
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <style>
    body { font-family: 'Helvetica Neue', Arial, sans-serif; margin: 24px; color: #0f172a; }
    h1 { margin: 0 0 8px; }
    .meta { display: flex; justify-content: space-between; margin-bottom: 16px; }
    .card { border: 1px solid #e2e8f0; border-radius: 8px; padding: 12px; margin-bottom: 12px; }
    .label { font-size: 12px; color: #475569; }
    .value { font-size: 14px; margin-bottom: 4px; }
    .broken { color: #b91c1c; font-weight: 700; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { padding: 8px; border-bottom: 1px solid #e2e8f0; text-align: left; font-size: 13px; }
    th { background: #f8fafc; }
  </style>
</head>
<body>
  <div class="meta">
    <h1>{{.Type}} report</h1>
    <div style="text-align:right">
      <div class="label">Organization</div>
      <div class="value">{{.Organization.DisplayName}} ({{.TenantID}})</div>
      <div class="label">Generated</div>
      <div class="value">{{ts .GeneratedAt}}</div>
    </div>
  </div>

  <div class="card">
    <div class="label">Audit chain</div>
    {{if .Chain.OK}}
    <div class="value">Verified: {{.Chain.EventCount}} events, head {{short .Chain.HeadDigest}}</div>
    {{else}}
    <div class="value broken">Broken at sequence {{.Chain.BrokenAtSeq}}</div>
    {{end}}
  </div>

  <table>
    <thead>
      <tr><th>Finding</th><th>Category</th><th>Severity</th><th>Status</th><th>Verification</th></tr>
    </thead>
    <tbody>
    {{range .Findings}}
      <tr>
        <td>{{.ID}}: {{.Description}}</td>
        <td>{{.Category}}</td>
        <td>{{.Severity}}</td>
        <td>{{.Status}}</td>
        <td>{{.Verification}}</td>
      </tr>
    {{end}}
    </tbody>
  </table>

  {{if .Holds}}
  <div class="card">
    <div class="label">Litigation holds</div>
    {{range .Holds}}
    <div class="value">{{.Scope}} hold by {{.ActivatedBy}} at {{ts .ActivatedAt}}{{if .Active}} (active){{end}}: {{.Reason}}</div>
    {{end}}
  </div>
  {{end}}
</body>
</html>
`
