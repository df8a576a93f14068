package domain

// Participant is one connected channel as seen by other members of its room.
// Name is free client input, not authenticated and not unique.
type Participant struct {
	ID   ConnectionID
	Name string
}
