// Package gcp models ground control points: correspondences between a pixel
// location in a source image and a geographic coordinate on the map.
package gcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every control point validation failure.
var ErrInvalid = errors.New("invalid control points")

// Point is a pixel location in the source image.
type Point struct {
	X, Y float64
}

// GeoPoint is a WGS84 geographic coordinate in decimal degrees.
type GeoPoint struct {
	Lat, Lng float64
}

// A ControlPoint ties a source pixel to its known map position.
type ControlPoint struct {
	Pixel Point
	Geo   GeoPoint
}

// A Set is an ordered sequence of control points.
type Set []ControlPoint

// collinearEps is the maximum triangle area (in squared pixel units) below
// which three points are considered collinear.
const collinearEps = 1e-9

// Validate checks the structural invariants of the set: at least one point,
// non-negative pixel coordinates, geographic coordinates within WGS84 bounds,
// and no two points sharing the same pixel location.
func (s Set) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty set", ErrInvalid)
	}
	seen := make(map[Point]int, len(s))
	for i, cp := range s {
		if cp.Pixel.X < 0 || cp.Pixel.Y < 0 {
			return fmt.Errorf("%w: point %d: negative pixel coordinate (%g,%g)", ErrInvalid, i, cp.Pixel.X, cp.Pixel.Y)
		}
		if cp.Geo.Lat < -90 || cp.Geo.Lat > 90 {
			return fmt.Errorf("%w: point %d: latitude %g out of range [-90,90]", ErrInvalid, i, cp.Geo.Lat)
		}
		if cp.Geo.Lng < -180 || cp.Geo.Lng > 180 {
			return fmt.Errorf("%w: point %d: longitude %g out of range [-180,180]", ErrInvalid, i, cp.Geo.Lng)
		}
		if j, dup := seen[cp.Pixel]; dup {
			return fmt.Errorf("%w: points %d and %d share pixel coordinate (%g,%g)", ErrInvalid, j, i, cp.Pixel.X, cp.Pixel.Y)
		}
		seen[cp.Pixel] = i
	}
	return nil
}

// Collinear reports whether the pixel coordinates or the geographic
// coordinates of the set lie on a single line. A warp is fitted in both
// directions, so collinearity on either side makes its system singular.
func (s Set) Collinear() bool {
	if len(s) < 3 {
		return true
	}
	pixel := func(cp ControlPoint) (float64, float64) { return cp.Pixel.X, cp.Pixel.Y }
	geo := func(cp ControlPoint) (float64, float64) { return cp.Geo.Lng, cp.Geo.Lat }
	return s.collinearIn(pixel) || s.collinearIn(geo)
}

func (s Set) collinearIn(coord func(ControlPoint) (float64, float64)) bool {
	x0, y0 := coord(s[0])
	x1, y1 := coord(s[1])
	ux, uy := x1-x0, y1-y0
	for _, cp := range s[2:] {
		vx, vy := coord(cp)
		if math.Abs(ux*(vy-y0)-uy*(vx-x0)) > collinearEps {
			return false
		}
	}
	return true
}

// payload mirrors the wire form {points:[{image:{x,y},map:{lat,lng}}]}.
// Coordinates are pointers so that omitted fields are rejected rather than
// silently read as zero.
type payload struct {
	Points []payloadPoint `json:"points" validate:"required,min=1,dive"`
}

type payloadPoint struct {
	Image *payloadPixel `json:"image" validate:"required"`
	Map   *payloadGeo   `json:"map" validate:"required"`
}

type payloadPixel struct {
	X *float64 `json:"x" validate:"required,gte=0"`
	Y *float64 `json:"y" validate:"required,gte=0"`
}

type payloadGeo struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

var validate = validator.New()

// ParsePayload decodes and validates a control point payload of the form
// {"points":[{"image":{"x":..,"y":..},"map":{"lat":..,"lng":..}},...]}.
func ParsePayload(data []byte) (Set, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrInvalid, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	set := make(Set, len(p.Points))
	for i, pt := range p.Points {
		set[i] = ControlPoint{
			Pixel: Point{X: *pt.Image.X, Y: *pt.Image.Y},
			Geo:   GeoPoint{Lat: *pt.Map.Lat, Lng: *pt.Map.Lng},
		}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
