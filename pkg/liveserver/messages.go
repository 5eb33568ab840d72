package liveserver

// Message is one frame of the plan feed
type Message struct {
	Type string      `json:"type"`
	Seq  uint64      `json:"seq"`
	Time int64       `json:"time"` // unix milliseconds
	Data interface{} `json:"data"`
}

// Message types published by the optimizer service
const (
	TypePlan      = "plan"
	TypeExecution = "execution"
	TypeFees      = "fees"
	TypeRejection = "rejection"
)
