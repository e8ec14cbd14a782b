package bus

// Message is any value dispatched through the bus. Concrete message types are
// defined by their producers (internal/reader defines the read requests,
// completions, and subscription notifications).
type Message interface{}

// Publisher is the outbound port handed to message producers.
type Publisher interface {
	Publish(msg Message)
}

// PublishFunc adapts a function to the Publisher interface.
type PublishFunc func(Message)

// Publish calls f(msg).
func (f PublishFunc) Publish(msg Message) { f(msg) }

// Handler processes one message. A non-nil error is fatal to the dispatch
// loop; transient conditions must be handled by the message producers.
type Handler func(msg Message) error
