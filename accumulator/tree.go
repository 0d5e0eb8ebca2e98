package accumulator

import (
	"math/big"

	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/crypto/hash/poseidon"
	"github.com/vocdoni/zksurvey/types"
)

// Proof is a membership proof of a leaf. Siblings are ordered from the leaf
// level to the root level and, inside each level, by position, skipping the
// node on the path. Each level contributes arity-1 siblings.
type Proof struct {
	Index    uint64
	Siblings []*big.Int
}

// SiblingsHex renders the siblings as 32 bytes hex strings.
func (p *Proof) SiblingsHex() []string {
	s := make([]string, len(p.Siblings))
	for i, sib := range p.Siblings {
		s[i] = field.ToHexFixed32(sib)
	}
	return s
}

// Tree is an in-memory fixed depth and arity merkle tree rebuilt from its
// leaves. Positions beyond the inserted leaves hold the zero element, and a
// node whose subtree contains no leaf is zero as well, so only the populated
// prefix of each level is kept.
type Tree struct {
	hasher poseidon.Hasher
	depth  int
	arity  int
	// levels[0] are the leaves and levels[depth] holds the root (if any leaf)
	levels [][]*big.Int
}

// Capacity returns arity^depth, the maximum number of leaves of a tree. It
// fails if the parameters are out of range.
func Capacity(depth, arity int) (uint64, error) {
	if arity < 2 || arity > poseidon.MaxInputs {
		return 0, types.ErrInvalidTreeParams.Withf("arity %d out of range [2, %d]", arity, poseidon.MaxInputs)
	}
	if depth < 1 {
		return 0, types.ErrInvalidTreeParams.Withf("depth %d must be positive", depth)
	}
	capacity := uint64(1)
	for i := 0; i < depth; i++ {
		capacity *= uint64(arity)
		if capacity > types.MaxTreeLeaves {
			return 0, types.ErrInvalidTreeParams.Withf("%d^%d leaves exceed the maximum of %d", arity, depth, uint64(types.MaxTreeLeaves))
		}
	}
	return capacity, nil
}

// NewTree builds the tree of the given leaves in a single pass.
func NewTree(hasher poseidon.Hasher, depth, arity int, leaves []*big.Int) (*Tree, error) {
	capacity, err := Capacity(depth, arity)
	if err != nil {
		return nil, err
	}
	if uint64(len(leaves)) > capacity {
		return nil, types.ErrTreeFull.Withf("%d leaves for a capacity of %d", len(leaves), capacity)
	}
	t := &Tree{
		hasher: hasher,
		depth:  depth,
		arity:  arity,
		levels: make([][]*big.Int, depth+1),
	}
	t.levels[0] = make([]*big.Int, len(leaves))
	for i, l := range leaves {
		if !field.Canonical(l) {
			return nil, types.ErrNonCanonicalField.Withf("leaf %d", i)
		}
		t.levels[0][i] = new(big.Int).Set(l)
	}
	for lvl := 0; lvl < depth; lvl++ {
		children := t.levels[lvl]
		parents := make([]*big.Int, (len(children)+arity-1)/arity)
		for j := range parents {
			if parents[j], err = t.hasher.Hash(t.group(lvl, j)...); err != nil {
				return nil, err
			}
		}
		t.levels[lvl+1] = parents
	}
	return t, nil
}

// group returns the arity children of the parent j at level lvl+1.
func (t *Tree) group(lvl, j int) []*big.Int {
	g := make([]*big.Int, t.arity)
	for k := range g {
		g[k] = t.node(lvl, j*t.arity+k)
	}
	return g
}

func (t *Tree) node(lvl, pos int) *big.Int {
	if pos < len(t.levels[lvl]) {
		return t.levels[lvl][pos]
	}
	return field.Zero
}

// Depth returns the number of levels below the root.
func (t *Tree) Depth() int { return t.depth }

// Arity returns the branching factor.
func (t *Tree) Arity() int { return t.arity }

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.levels[0]) }

// Root returns the root of the tree. The root of an empty tree is zero.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.node(t.depth, 0))
}

// IndexOf returns the index of the first occurrence of leaf. Duplicated
// leaves resolve to the lowest index.
func (t *Tree) IndexOf(leaf *big.Int) (uint64, bool) {
	for i, l := range t.levels[0] {
		if l.Cmp(leaf) == 0 {
			return uint64(i), true
		}
	}
	return 0, false
}

// Proof returns the membership proof of the first occurrence of leaf.
func (t *Tree) Proof(leaf *big.Int) (*Proof, error) {
	idx, ok := t.IndexOf(leaf)
	if !ok {
		return nil, types.ErrLeafNotFound.Withf("%s", field.ToHexFixed32(leaf))
	}
	return t.ProofAt(idx)
}

// ProofAt returns the membership proof of the leaf at index.
func (t *Tree) ProofAt(index uint64) (*Proof, error) {
	if index >= uint64(t.Len()) {
		return nil, types.ErrLeafNotFound.Withf("index %d", index)
	}
	proof := &Proof{
		Index:    index,
		Siblings: make([]*big.Int, 0, t.depth*(t.arity-1)),
	}
	pos := int(index)
	for lvl := 0; lvl < t.depth; lvl++ {
		first := pos - pos%t.arity
		for k := first; k < first+t.arity; k++ {
			if k == pos {
				continue
			}
			proof.Siblings = append(proof.Siblings, new(big.Int).Set(t.node(lvl, k)))
		}
		pos /= t.arity
	}
	return proof, nil
}

// ComputeRoot hashes leaf along the path described by index and siblings
// and returns the resulting root. The path must have exactly
// depth*(arity-1) siblings.
func ComputeRoot(hasher poseidon.Hasher, depth, arity int, leaf *big.Int, index uint64, siblings []*big.Int) (*big.Int, error) {
	capacity, err := Capacity(depth, arity)
	if err != nil {
		return nil, err
	}
	if len(siblings) != depth*(arity-1) {
		return nil, types.ErrInvalidMerklePath.Withf("%d siblings for depth %d and arity %d", len(siblings), depth, arity)
	}
	if index >= capacity {
		return nil, types.ErrInvalidMerklePath.Withf("index %d out of range for %d leaves", index, capacity)
	}
	cur := leaf
	for lvl := 0; lvl < depth; lvl++ {
		sibs := siblings[lvl*(arity-1) : (lvl+1)*(arity-1)]
		pos := int(index % uint64(arity))
		children := make([]*big.Int, 0, arity)
		children = append(children, sibs[:pos]...)
		children = append(children, cur)
		children = append(children, sibs[pos:]...)
		if cur, err = hasher.Hash(children...); err != nil {
			return nil, err
		}
		index /= uint64(arity)
	}
	return cur, nil
}

// VerifyProof checks that proof links leaf to root in a tree of the given
// depth and arity.
func VerifyProof(hasher poseidon.Hasher, depth, arity int, leaf *big.Int, proof *Proof, root *big.Int) (bool, error) {
	computed, err := ComputeRoot(hasher, depth, arity, leaf, proof.Index, proof.Siblings)
	if err != nil {
		return false, err
	}
	return computed.Cmp(root) == 0, nil
}

// ProofFromLeaves builds the proof of leaf out of a full leaf list, as
// returned to participants, without access to the storage.
func ProofFromLeaves(hasher poseidon.Hasher, depth, arity int, leaves []string, leaf *big.Int) (*Proof, *big.Int, error) {
	values, err := parseLeaves(leaves)
	if err != nil {
		return nil, nil, err
	}
	t, err := NewTree(hasher, depth, arity, values)
	if err != nil {
		return nil, nil, err
	}
	proof, err := t.Proof(leaf)
	if err != nil {
		return nil, nil, err
	}
	return proof, t.Root(), nil
}

func parseLeaves(leaves []string) ([]*big.Int, error) {
	values := make([]*big.Int, len(leaves))
	for i, l := range leaves {
		v, err := field.ParseCanonicalHex(l)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
