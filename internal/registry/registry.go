package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sewerwatch/internal/model"
	"sewerwatch/internal/storage"
)

// earthRadiusKm is the mean Earth radius used as the spherical-cap divisor.
// Kept at this value for compatibility with previously stored queries.
const earthRadiusKm = 6378.1

var ErrCodeExists = errors.New("manhole with this code already exists")

// Registry is the asset lookup and mutation surface over the persisted
// manhole collection.
type Registry struct {
	store storage.Store
}

func New(store storage.Store) *Registry {
	return &Registry{store: store}
}

// ResolveByExternalID looks up a manhole by its external string identifier.
// The second return is false when no such asset exists.
func (r *Registry) ResolveByExternalID(ctx context.Context, id string) (*model.Manhole, bool, error) {
	m, err := r.store.ManholeByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return nil, false, nil
	}
	return m, true, nil
}

// ApplyCriticalStatus marks the asset needs_attention and stamps its
// lastInspection. Field overwrites are idempotent, so concurrent critical
// readings racing on the same asset resolve last-write-wins.
func (r *Registry) ApplyCriticalStatus(ctx context.Context, id string) error {
	return r.store.MarkNeedsAttention(ctx, id, time.Now().UTC())
}

// CreateInput carries the caller-supplied manhole attributes; the internal
// identifier is assigned here.
type CreateInput struct {
	Code          string
	Longitude     float64
	Latitude      float64
	Elevation     float64
	Zone          string
	Status        string
	CoverStatus   string
	OverflowLevel string
	Connections   []string
	Notes         string
}

// Create registers a new manhole, assigning the next internal sequential
// identifier (max existing + 1, as a string).
func (r *Registry) Create(ctx context.Context, in CreateInput) (*model.Manhole, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return nil, errors.New("code is required")
	}
	existing, err := r.store.ManholeByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("check code: %w", err)
	}
	if existing != nil {
		return nil, ErrCodeExists
	}
	max, err := r.store.MaxManholeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("next id: %w", err)
	}
	m := model.Manhole{
		ID:            strconv.Itoa(max + 1),
		Code:          code,
		Longitude:     in.Longitude,
		Latitude:      in.Latitude,
		Elevation:     in.Elevation,
		Zone:          in.Zone,
		Status:        in.Status,
		CoverStatus:   in.CoverStatus,
		OverflowLevel: in.OverflowLevel,
		Connections:   in.Connections,
		Notes:         in.Notes,
	}
	if m.Status == "" {
		m.Status = "functional"
	}
	if m.CoverStatus == "" {
		m.CoverStatus = "closed"
	}
	if m.OverflowLevel == "" {
		m.OverflowLevel = "good"
	}
	if m.Connections == nil {
		m.Connections = []string{}
	}
	if err := r.store.CreateManhole(ctx, m); err != nil {
		if errors.Is(err, storage.ErrDuplicateCode) {
			return nil, ErrCodeExists
		}
		return nil, err
	}
	return &m, nil
}

func (r *Registry) List(ctx context.Context) ([]model.Manhole, error) {
	return r.store.ListManholes(ctx)
}

func (r *Registry) ByZone(ctx context.Context, zone string) ([]model.Manhole, error) {
	return r.store.ManholesByZone(ctx, zone)
}

// Near returns all manholes within radiusKm of the center, using the
// spherical-cap approximation: a point matches when its central angle from
// the center is at most radiusKm / earthRadiusKm. Not true ellipsoidal
// distance; the approximation is part of the query contract.
func (r *Registry) Near(ctx context.Context, lng, lat, radiusKm float64) ([]model.Manhole, error) {
	if radiusKm < 0 {
		return nil, errors.New("radius must be non-negative")
	}
	all, err := r.store.ListManholes(ctx)
	if err != nil {
		return nil, err
	}
	maxAngle := radiusKm / earthRadiusKm
	out := make([]model.Manhole, 0, len(all))
	for _, m := range all {
		if centralAngle(lng, lat, m.Longitude, m.Latitude) <= maxAngle {
			out = append(out, m)
		}
	}
	return out, nil
}

// SystemStatus aggregates fleet health counters.
func (r *Registry) SystemStatus(ctx context.Context) (model.SystemStatus, error) {
	all, err := r.store.ListManholes(ctx)
	if err != nil {
		return model.SystemStatus{}, err
	}
	status := model.SystemStatus{TotalManholes: len(all)}
	healthy := 0
	for _, m := range all {
		if m.Status == "functional" {
			status.MonitoredManholes++
		}
		if m.Status == "damaged" || m.Status == "overflowing" || m.OverflowLevel == "risk" || m.CoverStatus == "open" {
			status.CriticalIssues++
		}
		if m.Status == "under_maintenance" {
			status.MaintenanceOngoing++
		}
		if m.Status == "functional" && m.OverflowLevel == "good" && m.CoverStatus == "closed" {
			healthy++
		}
	}
	if status.TotalManholes > 0 {
		status.SystemHealth = int(math.Round(float64(healthy) / float64(status.TotalManholes) * 100))
	}
	return status, nil
}

// centralAngle computes the great-circle angular distance between two
// points on the unit sphere via the haversine formula.
func centralAngle(lng1, lat1, lng2, lat2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
