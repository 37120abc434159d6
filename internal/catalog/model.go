package catalog

// Product is one catalog item. JSON matches the public HTTP API.
type Product struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// StockLevel is the stock lookup contract served to the order service.
type StockLevel struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

// OrderApplication is one OrderPlaced event to apply against stock.
type OrderApplication struct {
	OrderID      string
	ItemID       int64
	Quantity     int
	PartitionKey string
	Sequence     int64 // zero when the producer sent a bare payload
}

// ApplyOutcome reports what applying an event did.
type ApplyOutcome struct {
	Duplicate    bool
	UnknownItem  bool
	Shortfall    int   // quantity that could not be decremented before hitting zero
	Remaining    int   // stock level after the decrement
	PrevSequence int64 // checkpoint before this event, -1 when none existed
}
