package enums

import "fmt"

// Topic tags the kind of event carried by a store outbox row. Values the drain
// loop does not recognize still round-trip through this type; unknown topics are
// acknowledged without action so they can never block the queue.
type Topic string

const (
	TopicOrderCreated   Topic = "order.created"
	TopicOrderCancelled Topic = "order.cancelled"
)

var validTopics = []Topic{
	TopicOrderCreated,
	TopicOrderCancelled,
}

// IsValid reports whether the topic is one the importer knows how to apply.
func (t Topic) IsValid() bool {
	for _, candidate := range validTopics {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTopic converts raw input into a known Topic.
func ParseTopic(value string) (Topic, error) {
	for _, candidate := range validTopics {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid topic %q", value)
}
