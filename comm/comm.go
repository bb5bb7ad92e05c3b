// Package comm provides the collective communication substrate for a group
// of simulation ranks running in a single process. Each rank is a goroutine
// holding its own Comm view of the group; ranks interact only through
// collective operations, which block until every rank has entered them.
package comm

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Group connects a fixed number of ranks. All ranks of one distributed
// computation share a single Group; each obtains its own Comm via Comm().
type Group struct {
	size  int
	pipes [][]chan any // pipes[src][dst], nil on the diagonal
}

// NewGroup creates a communication group for the given number of ranks.
func NewGroup(size int) *Group {
	if size < 1 {
		panic(fmt.Sprintf("comm: group size %d, must be at least 1", size))
	}
	pipes := make([][]chan any, size)
	for s := range pipes {
		pipes[s] = make([]chan any, size)
		for d := range pipes[s] {
			if d != s {
				// Capacity one: each collective moves exactly one message
				// per ordered rank pair, so sends never block within a
				// collective and FIFO order holds across collectives.
				pipes[s][d] = make(chan any, 1)
			}
		}
	}
	return &Group{size: size, pipes: pipes}
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Comm returns rank's view of the group.
func (g *Group) Comm(rank int) *Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0,%d)", rank, g.size))
	}
	return &Comm{group: g, rank: rank}
}

// Run launches fn once per rank, each on its own goroutine, and waits for
// all of them to return. The first non-nil error is returned after every
// rank has finished.
func (g *Group) Run(fn func(c *Comm) error) error {
	var eg errgroup.Group
	for rank := 0; rank < g.size; rank++ {
		c := g.Comm(rank)
		eg.Go(func() error { return fn(c) })
	}
	return eg.Wait()
}

// Comm is one rank's handle on the group. A Comm is bound to the goroutine
// driving its rank; it must not be shared across goroutines.
type Comm struct {
	group *Group
	rank  int
}

// Rank returns this rank's index in [0, Size).
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the group.
func (c *Comm) Size() int { return c.group.size }

func (c *Comm) send(dst int, v any) { c.group.pipes[c.rank][dst] <- v }

func (c *Comm) recv(src int) any { return <-c.group.pipes[src][c.rank] }

// Exchange is the all-to-all collective: out[d] is delivered to rank d, and
// the returned slice holds the payload received from each rank, indexed by
// source rank. out must have one entry per rank (nil entries are fine).
// Received slices are shared with the sender and must be treated read-only.
func Exchange[T any](c *Comm, out [][]T) [][]T {
	if len(out) != c.Size() {
		panic(fmt.Sprintf("comm: Exchange on rank %d with %d payloads, group size %d",
			c.rank, len(out), c.Size()))
	}
	in := make([][]T, c.Size())
	for d := 0; d < c.Size(); d++ {
		if d == c.rank {
			in[d] = out[d]
			continue
		}
		c.send(d, out[d])
	}
	for s := 0; s < c.Size(); s++ {
		if s == c.rank {
			continue
		}
		in[s] = c.recv(s).([]T)
	}
	return in
}

// Allgather delivers every rank's local slice to every rank, indexed by
// source rank.
func Allgather[T any](c *Comm, local []T) [][]T {
	out := make([][]T, c.Size())
	for d := range out {
		out[d] = local
	}
	return Exchange(c, out)
}

// AllreduceSum returns the sum of v across all ranks.
func AllreduceSum(c *Comm, v int) int {
	parts := Allgather(c, []int{v})
	total := 0
	for _, p := range parts {
		total += p[0]
	}
	return total
}

// Barrier blocks until every rank in the group has entered it.
func (c *Comm) Barrier() {
	Allgather(c, []struct{}{})
}
