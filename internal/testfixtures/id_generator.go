package testfixtures

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces deterministic history record identifiers. Identifiers
// are name based UUIDs, so they have the same shape as the random ones used
// in production while staying stable between test runs.
type IDGenerator struct {
	mu        sync.Mutex
	namespace string
	counter   uint64
}

// NewIDGenerator returns a generator whose identifiers derive from namespace.
// When namespace is empty, "record" is used.
func NewIDGenerator(namespace string) *IDGenerator {
	if namespace == "" {
		namespace = "record"
	}
	return &IDGenerator{namespace: namespace}
}

// Next returns the next identifier in the sequence.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return IDFor(g.namespace, g.counter)
}

// NextFunc exposes Next for injection into stores.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return uuid.NewString
	}
	return g.Next
}

// Issued returns how many identifiers were handed out.
func (g *IDGenerator) Issued() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

// IDFor returns the identifier a generator over namespace yields as its nth
// value.
func IDFor(namespace string, n uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d", namespace, n))).String()
}
