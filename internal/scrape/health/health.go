// Package health provides service health monitoring and status reporting.
package health

import "github.com/vietddude/scrapeback/internal/scrape/rescan"

// SystemStatus represents the overall health state of the service or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// LedgerHealth describes the bad URL ledger.
type LedgerHealth struct {
	Backend  string       `json:"backend"`
	Status   SystemStatus `json:"status"`
	BadURLs  int          `json:"bad_urls"`
	Error    string       `json:"error,omitempty"`
	LastScan *rescan.Pass `json:"last_rescan,omitempty"`
}

// HealthReport contains the full service health report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Components   map[string]LedgerHealth `json:"components"`
}
