package ports

import "github.com/ghalamif/SenseFlow/internal/domain"

// Transformer adjusts fresh samples (calibration, unit conversion) before they
// are cached and fanned out to subscribers.
type Transformer interface {
	Transform(domain.Sample) (domain.Sample, error)
	Version() uint16
}
