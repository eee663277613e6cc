package tree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eth2030/aggsettle/core/types"
)

// Sparse Merkle tree errors.
var (
	ErrKeyLength     = errors.New("smt: key length does not match tree depth")
	ErrKeyPresent    = errors.New("smt: key already present")
	ErrKeyNotPresent = errors.New("smt: key not present")
	ErrMissingNode   = errors.New("smt: missing node")
)

// Node is an internal node of a sparse Merkle tree.
type Node struct {
	Left  types.Hash
	Right types.Hash
}

// NodeEntry is a node together with its hash, the unit of persistence.
type NodeEntry struct {
	Hash  types.Hash
	Left  types.Hash
	Right types.Hash
}

// SparseMerkleTree is a keccak binary tree of fixed depth whose leaves are
// addressed by the bits of a key, most significant bit first. An unset leaf
// is the zero hash, so empty subtrees are never stored: their hashes are
// known per height.
type SparseMerkleTree struct {
	depth int
	root  types.Hash
	nodes map[types.Hash]Node
	empty []types.Hash
}

var emptyHashCache = map[int][]types.Hash{}

func emptyHashes(depth int) []types.Hash {
	if e, ok := emptyHashCache[depth]; ok {
		return e
	}
	e := make([]types.Hash, depth+1)
	for h := 1; h <= depth; h++ {
		e[h] = merge(e[h-1], e[h-1])
	}
	return e
}

func init() {
	for _, depth := range []int{BalanceTreeDepth, NullifierTreeDepth} {
		emptyHashCache[depth] = emptyHashes(depth)
	}
}

// NewSparseMerkleTree creates an empty tree. depth must be a positive
// multiple of 8 no larger than 256.
func NewSparseMerkleTree(depth int) *SparseMerkleTree {
	if depth <= 0 || depth > 256 || depth%8 != 0 {
		panic(fmt.Sprintf("smt: invalid depth %d", depth))
	}
	e := emptyHashes(depth)
	return &SparseMerkleTree{
		depth: depth,
		root:  e[depth],
		nodes: make(map[types.Hash]Node),
		empty: e,
	}
}

// Depth returns the number of levels below the root.
func (t *SparseMerkleTree) Depth() int { return t.depth }

// Root returns the current root.
func (t *SparseMerkleTree) Root() types.Hash { return t.root }

// EmptyRoot returns the root of the tree with no leaves set.
func (t *SparseMerkleTree) EmptyRoot() types.Hash { return t.empty[t.depth] }

func bitAt(key []byte, i int) bool {
	return (key[i/8]>>(7-uint(i%8)))&1 == 1
}

func (t *SparseMerkleTree) children(node types.Hash, height int) (Node, error) {
	if node == t.empty[height] {
		return Node{Left: t.empty[height-1], Right: t.empty[height-1]}, nil
	}
	n, ok := t.nodes[node]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrMissingNode, node)
	}
	return n, nil
}

// path walks from the root to the leaf of key, returning the siblings in
// root-to-leaf order and the leaf value.
func (t *SparseMerkleTree) path(key []byte) ([]types.Hash, types.Hash, error) {
	if len(key)*8 != t.depth {
		return nil, types.Hash{}, ErrKeyLength
	}
	siblings := make([]types.Hash, t.depth)
	node := t.root
	for i := 0; i < t.depth; i++ {
		n, err := t.children(node, t.depth-i)
		if err != nil {
			return nil, types.Hash{}, err
		}
		if bitAt(key, i) {
			siblings[i], node = n.Left, n.Right
		} else {
			siblings[i], node = n.Right, n.Left
		}
	}
	return siblings, node, nil
}

// Get returns the value at key and whether it is set.
func (t *SparseMerkleTree) Get(key []byte) (types.Hash, bool, error) {
	_, value, err := t.path(key)
	if err != nil {
		return types.Hash{}, false, err
	}
	return value, !value.IsZero(), nil
}

func (t *SparseMerkleTree) set(key []byte, siblings []types.Hash, value types.Hash) {
	node := value
	for i := t.depth - 1; i >= 0; i-- {
		var n Node
		if bitAt(key, i) {
			n = Node{Left: siblings[i], Right: node}
		} else {
			n = Node{Left: node, Right: siblings[i]}
		}
		node = merge(n.Left, n.Right)
		if node != t.empty[t.depth-i] {
			t.nodes[node] = n
		}
	}
	t.root = node
}

// Insert sets key to value, failing if key is already set.
func (t *SparseMerkleTree) Insert(key []byte, value types.Hash) error {
	siblings, old, err := t.path(key)
	if err != nil {
		return err
	}
	if !old.IsZero() {
		return ErrKeyPresent
	}
	t.set(key, siblings, value)
	return nil
}

// Update sets key to value whether or not it is already set. Setting the
// zero hash clears the key.
func (t *SparseMerkleTree) Update(key []byte, value types.Hash) error {
	siblings, _, err := t.path(key)
	if err != nil {
		return err
	}
	t.set(key, siblings, value)
	return nil
}

// Proof returns the path of key regardless of whether it is set.
func (t *SparseMerkleTree) Proof(key []byte) (SmtProof, error) {
	siblings, _, err := t.path(key)
	if err != nil {
		return SmtProof{}, err
	}
	return SmtProof{Siblings: siblings}, nil
}

// InclusionProof returns the path of a set key.
func (t *SparseMerkleTree) InclusionProof(key []byte) (SmtProof, error) {
	siblings, value, err := t.path(key)
	if err != nil {
		return SmtProof{}, err
	}
	if value.IsZero() {
		return SmtProof{}, ErrKeyNotPresent
	}
	return SmtProof{Siblings: siblings}, nil
}

// NonInclusionProof returns the path showing key is unset.
func (t *SparseMerkleTree) NonInclusionProof(key []byte) (SmtProof, error) {
	siblings, value, err := t.path(key)
	if err != nil {
		return SmtProof{}, err
	}
	if !value.IsZero() {
		return SmtProof{}, ErrKeyPresent
	}
	return SmtProof{Siblings: siblings}, nil
}

// Export returns every node reachable from the root, sorted by hash.
// Unreachable nodes left behind by updates are not exported.
func (t *SparseMerkleTree) Export() ([]NodeEntry, error) {
	var out []NodeEntry
	seen := make(map[types.Hash]struct{})
	var walk func(node types.Hash, height int) error
	walk = func(node types.Hash, height int) error {
		if height == 0 || node == t.empty[height] {
			return nil
		}
		if _, ok := seen[node]; ok {
			return nil
		}
		n, ok := t.nodes[node]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingNode, node)
		}
		seen[node] = struct{}{}
		out = append(out, NodeEntry{Hash: node, Left: n.Left, Right: n.Right})
		if err := walk(n.Left, height-1); err != nil {
			return err
		}
		return walk(n.Right, height-1)
	}
	if err := walk(t.root, t.depth); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash.Cmp(out[j].Hash) < 0 })
	return out, nil
}

// ImportSparseMerkleTree rebuilds a tree from its root and exported nodes.
// The node hashes are checked against their children.
func ImportSparseMerkleTree(depth int, root types.Hash, entries []NodeEntry) (*SparseMerkleTree, error) {
	t := NewSparseMerkleTree(depth)
	for _, e := range entries {
		if merge(e.Left, e.Right) != e.Hash {
			return nil, fmt.Errorf("smt: corrupt node %s", e.Hash)
		}
		t.nodes[e.Hash] = Node{Left: e.Left, Right: e.Right}
	}
	t.root = root
	if _, err := t.Export(); err != nil {
		return nil, err
	}
	return t, nil
}

// Clone returns an independent copy of the tree.
func (t *SparseMerkleTree) Clone() *SparseMerkleTree {
	cpy := &SparseMerkleTree{
		depth: t.depth,
		root:  t.root,
		nodes: make(map[types.Hash]Node, len(t.nodes)),
		empty: t.empty,
	}
	for h, n := range t.nodes {
		cpy.nodes[h] = n
	}
	return cpy
}

// SmtProof is a sparse Merkle path with siblings in root-to-leaf order. The
// tree depth is the number of siblings.
type SmtProof struct {
	Siblings []types.Hash
}

// ComputeRoot folds value up the path of key. It reports false when the key
// does not match the proof depth.
func (p *SmtProof) ComputeRoot(key []byte, value types.Hash) (types.Hash, bool) {
	depth := len(p.Siblings)
	if depth == 0 || len(key)*8 != depth {
		return types.Hash{}, false
	}
	node := value
	for i := depth - 1; i >= 0; i-- {
		if bitAt(key, i) {
			node = merge(p.Siblings[i], node)
		} else {
			node = merge(node, p.Siblings[i])
		}
	}
	return node, true
}

// Verify reports whether key holds value under root.
func (p *SmtProof) Verify(key []byte, value, root types.Hash) bool {
	got, ok := p.ComputeRoot(key, value)
	return ok && got == root
}

// VerifyAndUpdate checks that key holds oldValue under root and returns the
// root after replacing it with newValue.
func (p *SmtProof) VerifyAndUpdate(key []byte, oldValue, newValue, root types.Hash) (types.Hash, bool) {
	if !p.Verify(key, oldValue, root) {
		return types.Hash{}, false
	}
	return p.ComputeRoot(key, newValue)
}
