package models

// PullType says which inventory a movement draws from.
type PullType string

const (
	PullFinishedGoods  PullType = "FG"
	PullWorkInProgress PullType = "WIP"
)

func (p PullType) String() string {
	return string(p)
}

// Valid reports whether p is a known pull type.
func (p PullType) Valid() bool {
	return p == PullFinishedGoods || p == PullWorkInProgress
}

// InventorySnapshot is the resolved inventory view for one part, treated as immutable
// for the duration of one reconciliation.
type InventorySnapshot struct {
	PartNumber   string
	Site         string
	ItemCode     string
	OnHand       int64
	PullType     PullType
	JobNumber    string // empty when no job backs the stock
	JobRemaining int64
	Location     string
}

// Available returns the on-hand quantity, never negative.
func (s *InventorySnapshot) Available() int64 {
	if s == nil || s.OnHand < 0 {
		return 0
	}
	return s.OnHand
}
