// README: Booking aggregate, actors and status definitions.
package booking

import (
	"time"

	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// AllowedTransitions represents the booking lifecycle as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:  {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
	// RoleSystem is used by internal automation that may start or complete trips.
	RoleSystem Role = "system"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   types.ID
	Role Role
}

type Place struct {
	Address string       `json:"address" bson:"address"`
	Point   *types.Point `json:"location,omitempty" bson:"location,omitempty"`
}

type Booking struct {
	ID              types.ID          `json:"id"`
	RiderID         types.ID          `json:"rider_id"`
	DriverID        *types.ID         `json:"driver_id"`
	RideClass       pricing.RideClass `json:"ride_class"`
	Pickup          Place             `json:"pickup"`
	Destination     Place             `json:"destination"`
	PickupCell      string            `json:"pickup_cell,omitempty"`
	DistanceKm      float64           `json:"distance_km"`
	DurationMinutes int               `json:"duration_minutes"`
	Fare            types.Money       `json:"fare"`
	Status          Status            `json:"status"`
	StatusVersion   int               `json:"status_version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	AcceptedAt      *time.Time        `json:"accepted_at,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CancelReason    *string           `json:"cancel_reason,omitempty"`
}

func (b *Booking) AssignedTo(driverID types.ID) bool {
	return b.DriverID != nil && *b.DriverID == driverID
}

func (b *Booking) Clone() *Booking {
	c := *b
	if b.DriverID != nil {
		d := *b.DriverID
		c.DriverID = &d
	}
	c.Pickup.Point = clonePoint(b.Pickup.Point)
	c.Destination.Point = clonePoint(b.Destination.Point)
	c.AcceptedAt = cloneTime(b.AcceptedAt)
	c.StartedAt = cloneTime(b.StartedAt)
	c.CompletedAt = cloneTime(b.CompletedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	if b.CancelReason != nil {
		r := *b.CancelReason
		c.CancelReason = &r
	}
	return &c
}

type Event struct {
	ID         types.ID  `json:"id"`
	BookingID  types.ID  `json:"booking_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorRole  Role      `json:"actor_role"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	// DriverID is the driver assigned before the transition, kept for cancellations that clear it.
	DriverID  *types.ID `json:"driver_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusChange describes one compare-and-set on a booking's status.
type StatusChange struct {
	ID   types.ID
	From Status
	To   Status
	// DriverID is assigned when To is accepted. For every other target it guards
	// the write: the stored driver must be unset or equal to it.
	DriverID *types.ID
	Reason   string
	At       time.Time
}

type AvailableQuery struct {
	Limit int
	// Areas restricts results to pickups inside these geohash cells (geo.AreaPrecision).
	Areas []string
}

func clonePoint(p *types.Point) *types.Point {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
