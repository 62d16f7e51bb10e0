package ports

import "github.com/ghalamif/SenseFlow/internal/domain"

// ReportArchive stores emitted sender reports for offline clock analysis.
type ReportArchive interface {
	WriteReports(reports []domain.SenderReport) error
	Name() string
}
