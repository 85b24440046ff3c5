package automaton

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/mealycache/pkg/domain"
)

// NodeID addresses a node in the builder's arena.
type NodeID int32

// Root is the state reached by the empty word.
const Root NodeID = 0

const none NodeID = -1

type transition struct {
	out  domain.Symbol
	succ NodeID
}

type node struct {
	// trans is indexed by alphabet position; succ == none marks a missing transition.
	trans []transition
	// refs counts incoming transitions.
	refs int32
}

// Builder is an incrementally constructed, acyclic Mealy automaton.
//
// Nodes live in an arena and reference each other by index. Nodes with identical
// outgoing transitions are merged through a register, so words with identical
// residual behaviour share their tails. A shared node is cloned before it is
// extended, so an insertion never changes the response of any other word.
//
// Builder is not safe for concurrent use.
type Builder struct {
	alphabet domain.Alphabet
	nodes    []node
	free     []NodeID
	register map[string]NodeID
	// registered maps a node to its register key, for removal.
	registered map[NodeID]string
}

// NewBuilder creates an empty automaton over alphabet.
func NewBuilder(alphabet domain.Alphabet) *Builder {
	b := &Builder{alphabet: alphabet}
	b.Reset()
	return b
}

// Alphabet returns the input alphabet.
func (b *Builder) Alphabet() domain.Alphabet {
	return b.alphabet
}

// Reset drops every node but a fresh root.
func (b *Builder) Reset() {
	b.nodes = b.nodes[:0]
	b.free = b.free[:0]
	b.register = make(map[string]NodeID)
	b.registered = make(map[NodeID]string)
	b.alloc()
}

// Size returns the number of live nodes, including the root.
func (b *Builder) Size() int {
	return len(b.nodes) - len(b.free)
}

// Lookup walks word from the root and returns the outputs of the longest known prefix.
// complete is true when the whole word is known.
func (b *Builder) Lookup(word domain.Word) (response domain.Word, complete bool) {
	out := make([]domain.Symbol, 0, word.Len())
	cur := Root
	for i := range word.Len() {
		t, ok := b.transition(cur, word.At(i))
		if !ok {
			return domain.NewWord(out...), false
		}
		out = append(out, t.out)
		cur = t.succ
	}
	return domain.NewWord(out...), true
}

// Path returns the nodes visited by word, starting with the root.
// ok is false when the word leaves the automaton.
func (b *Builder) Path(word domain.Word) (path []NodeID, ok bool) {
	path = append(path, Root)
	cur := Root
	for i := range word.Len() {
		t, found := b.transition(cur, word.At(i))
		if !found {
			return path, false
		}
		cur = t.succ
		path = append(path, cur)
	}
	return path, true
}

// Insert adds word with its response.
//
// If an existing transition disagrees with response, Insert returns a
// *domain.ConflictError for the shortest diverging prefix and leaves the
// automaton untouched. Re-inserting a known pair is a no-op.
func (b *Builder) Insert(word, response domain.Word) error {
	if word.Len() != response.Len() {
		return fmt.Errorf("%w: %d inputs, %d outputs for %s", domain.ErrMalformedObservation, word.Len(), response.Len(), word)
	}
	if err := b.alphabet.Validate(word); err != nil {
		return err
	}

	// Validate the known part of the path before touching anything.
	cur := Root
	known := 0
	for known < word.Len() {
		t, ok := b.transition(cur, word.At(known))
		if !ok {
			break
		}
		if t.out != response.At(known) {
			recorded, _ := b.Lookup(word.Prefix(known + 1))
			return &domain.ConflictError{
				Prefix: word.Prefix(known + 1),
				Old:    recorded,
				New:    response.Prefix(known + 1),
			}
		}
		cur = t.succ
		known++
	}
	if known == word.Len() {
		return nil
	}

	// Walk the known part again, cloning shared nodes so the extension stays private.
	path := make([]NodeID, 1, word.Len()+1)
	path[0] = Root
	cur = Root
	for i := range known {
		idx := b.alphabet.Index(word.At(i))
		succ := b.nodes[cur].trans[idx].succ
		if b.nodes[succ].refs > 1 {
			b.unregister(cur)
			c := b.clone(succ)
			b.nodes[succ].refs--
			b.nodes[c].refs = 1
			b.nodes[cur].trans[idx].succ = c
			succ = c
		}
		cur = succ
		path = append(path, cur)
	}

	// Append the fresh tail.
	b.unregister(cur)
	for i := known; i < word.Len(); i++ {
		n := b.alloc()
		b.nodes[n].refs = 1
		b.nodes[cur].trans[b.alphabet.Index(word.At(i))] = transition{out: response.At(i), succ: n}
		cur = n
		path = append(path, cur)
	}

	// Merge equivalent nodes bottom-up.
	for j := len(path) - 1; j >= 1; j-- {
		x := path[j]
		if _, ok := b.registered[x]; ok {
			continue
		}
		sig := b.signature(x)
		y, ok := b.register[sig]
		if !ok {
			b.register[sig] = x
			b.registered[x] = sig
			continue
		}
		parent := path[j-1]
		b.unregister(parent)
		b.nodes[parent].trans[b.alphabet.Index(word.At(j-1))].succ = y
		b.nodes[y].refs++
		b.release(x)
		path[j] = y
	}
	return nil
}

func (b *Builder) transition(n NodeID, sym domain.Symbol) (transition, bool) {
	idx := b.alphabet.Index(sym)
	if idx < 0 {
		return transition{}, false
	}
	t := b.nodes[n].trans[idx]
	if t.succ == none {
		return transition{}, false
	}
	return t, true
}

func (b *Builder) alloc() NodeID {
	trans := make([]transition, b.alphabet.Size())
	for i := range trans {
		trans[i].succ = none
	}
	if n := len(b.free); n > 0 {
		id := b.free[n-1]
		b.free = b.free[:n-1]
		b.nodes[id] = node{trans: trans}
		return id
	}
	b.nodes = append(b.nodes, node{trans: trans})
	return NodeID(len(b.nodes) - 1)
}

// clone copies n's transitions into a fresh, unregistered node.
func (b *Builder) clone(n NodeID) NodeID {
	c := b.alloc()
	copy(b.nodes[c].trans, b.nodes[n].trans)
	for _, t := range b.nodes[c].trans {
		if t.succ != none {
			b.nodes[t.succ].refs++
		}
	}
	return c
}

// release frees an unregistered node whose equivalent twin already holds
// references to the same successors, so no successor drops to zero.
func (b *Builder) release(n NodeID) {
	for _, t := range b.nodes[n].trans {
		if t.succ != none {
			b.nodes[t.succ].refs--
		}
	}
	b.nodes[n] = node{}
	b.free = append(b.free, n)
}

func (b *Builder) unregister(n NodeID) {
	sig, ok := b.registered[n]
	if !ok {
		return
	}
	delete(b.registered, n)
	if b.register[sig] == n {
		delete(b.register, sig)
	}
}

func (b *Builder) signature(n NodeID) string {
	var sb strings.Builder
	for i, t := range b.nodes[n].trans {
		if t.succ == none {
			continue
		}
		sb.WriteString(strconv.Itoa(i))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(len(t.out)))
		sb.WriteByte('#')
		sb.WriteString(string(t.out))
		sb.WriteByte('>')
		sb.WriteString(strconv.Itoa(int(t.succ)))
		sb.WriteByte(';')
	}
	return sb.String()
}
