package report

import (
	"time"

	"github.com/yourorg/compliance-ledger/internal/config"
)

// Config holds environment-driven settings for the worker pool, renderer
// and blob storage.
type Config struct {
	Workers         int
	MaxQueue        int
	Renderer        string
	PDFChromiumPath string
	PDFTimeout      time.Duration
	PDFTimeZone     string
	MongoURI        string
	MongoDB         string
	MongoCollection string
}

func LoadConfig() Config {
	return Config{
		Workers:         config.Int("REPORT_WORKERS", 2),
		MaxQueue:        config.Int("REPORT_MAX_QUEUE", 64),
		Renderer:        config.String("REPORT_RENDERER", "json"),
		PDFChromiumPath: config.String("PDF_CHROMIUM_PATH", ""),
		PDFTimeout:      config.Duration("PDF_TIMEOUT", 15*time.Second),
		PDFTimeZone:     config.String("PDF_TIMEZONE", "UTC"),
		MongoURI:        config.String("MONGO_URI", ""),
		MongoDB:         config.String("MONGO_DB", "compliance_ledger"),
		MongoCollection: config.String("MONGO_REPORT_COLLECTION", "report_blobs"),
	}
}
