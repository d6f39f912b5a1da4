package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusFailed: true},
	StatusPaid:      {StatusCompleted: true, StatusRefunded: true},
	StatusCompleted: {StatusRefunded: true},
	StatusFailed:    {},
	StatusRefunded:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

type ESimStatus string

const (
	ESimInactive ESimStatus = "INACTIVE"
	ESimActive   ESimStatus = "ACTIVE"
	ESimExpired  ESimStatus = "EXPIRED"
)
