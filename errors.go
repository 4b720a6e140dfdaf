package warptile

import (
	"errors"

	"github.com/geoanchor/warptile/gcp"
	"github.com/geoanchor/warptile/raster"
	"github.com/geoanchor/warptile/store"
	"github.com/geoanchor/warptile/tps"
	"github.com/geoanchor/warptile/warp"
)

// Class groups pipeline failures for callers that report them differently:
// bad input is the caller's fault, geometry failures mean the control points
// cannot define a warp, storage failures may be retried by the caller.
type Class int

const (
	ClassInternal Class = iota
	ClassInput
	ClassGeometry
	ClassUnsupportedBands
	ClassStorage
)

func (c Class) String() string {
	switch c {
	case ClassInput:
		return "input"
	case ClassGeometry:
		return "geometry"
	case ClassUnsupportedBands:
		return "unsupported-bands"
	case ClassStorage:
		return "storage"
	}
	return "internal"
}

// Classify maps an error returned by Pipeline.Run onto the failure taxonomy.
// Errors that already aborted the run before publish never leave a visible
// namespace behind, regardless of class.
func Classify(err error) Class {
	switch {
	case errors.Is(err, raster.ErrUnopenableImage), errors.Is(err, gcp.ErrInvalid):
		return ClassInput
	case errors.Is(err, tps.ErrInsufficientControlPoints),
		errors.Is(err, tps.ErrDegenerateControlPoints),
		errors.Is(err, warp.ErrProjection):
		return ClassGeometry
	case errors.Is(err, raster.ErrUnsupportedBandLayout):
		return ClassUnsupportedBands
	case errors.Is(err, store.ErrStorage):
		return ClassStorage
	}
	var opt ErrInvalidOption
	if errors.As(err, &opt) {
		return ClassInput
	}
	return ClassInternal
}
