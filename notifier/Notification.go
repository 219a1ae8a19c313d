package notifier

// Notification is an event published by a charge point, e.g. "meter.values".
type Notification struct {
	Topic string                 `json:"topic"`
	Data  map[string]interface{} `json:"data"`
}
