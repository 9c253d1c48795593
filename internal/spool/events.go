package spool

// Event topics published by the spool module.
const (
	TopicJobDelivered = "spool.job.delivered"
	TopicJobFailed    = "spool.job.failed"
)

// JobEvent is the payload of TopicJobDelivered and TopicJobFailed.
type JobEvent struct {
	JobID     string `json:"job_id"`
	DeviceID  string `json:"device_id"`
	Converted bool   `json:"converted"`
	Pages     int    `json:"pages,omitempty"`
	Bytes     int64  `json:"bytes"`
	Stage     Stage  `json:"stage,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}
