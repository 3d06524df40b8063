package queue

// Enqueue rejection reasons reported to metrics.
const (
	reasonClosed    = "closed"
	reasonCapacity  = "capacity_exceeded"
	reasonCancelled = "context_cancelled"
	reasonFull      = "queue_full"
)
