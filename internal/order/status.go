package order

type Status string

const (
	// StatusCreated means the order is stored and its event is published
	// or pending in the outbox.
	StatusCreated Status = "created"
	// StatusFailed means the event could not be published before the retry
	// budget ran out.
	StatusFailed Status = "failed"
)
