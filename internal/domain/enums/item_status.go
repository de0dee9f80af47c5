package enums

type ItemStatus string

const (
	ItemStatusPending  ItemStatus = "PENDING"
	ItemStatusDecided  ItemStatus = "DECIDED"
	ItemStatusArchived ItemStatus = "ARCHIVED"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusDecided, ItemStatusArchived:
		return true
	default:
		return false
	}
}
