// Package tps fits thin-plate-spline warps from ground control points.
//
// A thin plate spline passes exactly through every control point and
// minimizes bending energy in between, which absorbs local distortions
// (scan skew, lens warp) that a single affine fit would smear across the
// whole image.
package tps

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/geoanchor/warptile/gcp"
)

// ErrInsufficientControlPoints is returned when fewer than MinControlPoints
// usable points are supplied.
var ErrInsufficientControlPoints = errors.New("at least 3 control points are required")

// ErrDegenerateControlPoints is returned when the control points are
// collinear or otherwise produce a singular spline system.
var ErrDegenerateControlPoints = errors.New("control points are collinear or degenerate")

// MinControlPoints is the smallest set a spline can be fitted from.
const MinControlPoints = 3

// A Spline maps source pixel coordinates to WGS84 geographic coordinates and
// back. Both directions are fitted independently from the same control point
// set so the inverse needs no iterative search.
type Spline struct {
	fwdLng *surface // pixel -> longitude
	fwdLat *surface // pixel -> latitude
	invX   *surface // (lng,lat) -> pixel x
	invY   *surface // (lng,lat) -> pixel y
}

// Solve fits a spline from the given control point set. It fails with
// ErrInsufficientControlPoints for sets smaller than MinControlPoints and
// with ErrDegenerateControlPoints when the points are collinear or the
// resulting system is singular.
func Solve(set gcp.Set) (*Spline, error) {
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("control points: %w", err)
	}
	if len(set) < MinControlPoints {
		return nil, ErrInsufficientControlPoints
	}
	if set.Collinear() {
		return nil, ErrDegenerateControlPoints
	}

	n := len(set)
	px := make([]float64, n)
	py := make([]float64, n)
	lng := make([]float64, n)
	lat := make([]float64, n)
	for i, cp := range set {
		px[i] = cp.Pixel.X
		py[i] = cp.Pixel.Y
		lng[i] = cp.Geo.Lng
		lat[i] = cp.Geo.Lat
	}

	sp := &Spline{}
	var err error
	if sp.fwdLng, err = fit(px, py, lng); err != nil {
		return nil, err
	}
	if sp.fwdLat, err = fit(px, py, lat); err != nil {
		return nil, err
	}
	if sp.invX, err = fit(lng, lat, px); err != nil {
		return nil, err
	}
	if sp.invY, err = fit(lng, lat, py); err != nil {
		return nil, err
	}
	return sp, nil
}

// Forward maps a pixel coordinate to its geographic position.
func (s *Spline) Forward(x, y float64) (lat, lng float64) {
	return s.fwdLat.eval(x, y), s.fwdLng.eval(x, y)
}

// Inverse maps a geographic position back to a pixel coordinate.
func (s *Spline) Inverse(lat, lng float64) (x, y float64) {
	return s.invX.eval(lng, lat), s.invY.eval(lng, lat)
}

// surface is a scalar thin plate spline f(x,y) = a0 + a1*x + a2*y +
// sum_i w_i * U(|(x,y)-(cx_i,cy_i)|).
type surface struct {
	cx, cy []float64
	w      []float64
	a      [3]float64
}

// kernel is the TPS radial basis U(r) = r^2 * log(r^2), expressed in terms of
// the squared radius. U(0) = 0 by continuity.
func kernel(r2 float64) float64 {
	if r2 <= 0 {
		return 0
	}
	return r2 * math.Log(r2)
}

// fit solves the classic TPS system
//
//	| K  P | |w|   |v|
//	| Pt 0 | |a| = |0|
//
// where K[i][j] = U(|p_i - p_j|) and P rows are (1, x_i, y_i).
func fit(xs, ys, vs []float64) (*surface, error) {
	n := len(xs)
	m := n + 3
	A := mat.NewDense(m, m, nil)
	b := mat.NewVecDense(m, nil)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dx := xs[i] - xs[j]
			dy := ys[i] - ys[j]
			A.Set(i, j, kernel(dx*dx+dy*dy))
		}
		A.Set(i, n, 1)
		A.Set(i, n+1, xs[i])
		A.Set(i, n+2, ys[i])
		A.Set(n, i, 1)
		A.Set(n+1, i, xs[i])
		A.Set(n+2, i, ys[i])
		b.SetVec(i, vs[i])
	}

	sol := mat.NewVecDense(m, nil)
	if err := sol.SolveVec(A, b); err != nil {
		// A Condition error still carries a usable solution; anything
		// else means the system is singular.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, ErrDegenerateControlPoints
		}
	}
	for i := 0; i < m; i++ {
		if v := sol.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrDegenerateControlPoints
		}
	}
	srf := &surface{
		cx: xs,
		cy: ys,
		w:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		srf.w[i] = sol.AtVec(i)
	}
	srf.a[0] = sol.AtVec(n)
	srf.a[1] = sol.AtVec(n + 1)
	srf.a[2] = sol.AtVec(n + 2)
	return srf, nil
}

func (s *surface) eval(x, y float64) float64 {
	v := s.a[0] + s.a[1]*x + s.a[2]*y
	for i := range s.w {
		dx := x - s.cx[i]
		dy := y - s.cy[i]
		v += s.w[i] * kernel(dx*dx+dy*dy)
	}
	return v
}
