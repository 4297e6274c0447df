// Package queue provides the FIFO containers used for frame pools and frame queues.
//
// The containers are not goroutine-safe; the port backend guards every access
// with its own mutex.
package queue

// Queue defines the interface of a FIFO container.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(T)
	// Dequeue removes and returns the item at the head of the queue.
	// The boolean is false when the queue is empty.
	Dequeue() (T, bool)
	// Peek returns the item at the head of the queue without removing it.
	Peek() (T, bool)
	// Reset to an empty queue
	Reset()
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}
