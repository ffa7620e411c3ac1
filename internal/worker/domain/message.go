package domain

// Acknowledger settles a queue delivery. amqp091.Delivery satisfies it.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// RunMessage is a run announced on the task queue, handed from the dispatcher to the pool
type RunMessage struct {
	RunID       string
	TaskName    string
	DeliveryTag uint64
	Delivery    Acknowledger
}
