package types

const (
	// DefaultTreeDepth is the depth of the survey trees when none is provided.
	DefaultTreeDepth = 10
	// DefaultTreeArity is the branching factor of the survey trees when none
	// is provided.
	DefaultTreeArity = 2
	// MaxTreeArity is the largest branching factor supported, bounded by the
	// number of inputs the Poseidon hash accepts.
	MaxTreeArity = 16
	// MaxTreeLeaves bounds arity^depth so leaf indexes fit in an uint32.
	MaxTreeLeaves = 1 << 32
	// FieldElementSize is the size in bytes of a canonical field element.
	FieldElementSize = 32
	// EmptyPathNode is the literal accepted as a merkle path entry standing
	// for the zero element.
	EmptyPathNode = "0"
)
