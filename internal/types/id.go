// README: Opaque identifiers shared by riders, drivers, bookings and trips.
package types

type ID string

func (id ID) String() string { return string(id) }

// IDPtr returns nil for the empty ID so optional columns stay NULL.
func IDPtr(id ID) *ID {
	if id == "" {
		return nil
	}
	return &id
}
