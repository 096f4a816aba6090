package constants

// Input bounds enforced before a job is created.
const (
	// MaxTextLength is the hard cap on source text, in characters (runes).
	MaxTextLength = 100_000

	// DefaultChunkSize is used when the caller does not pick one.
	DefaultChunkSize = 4_000
)

// Listing defaults for candidate retrieval.
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// MaxExtraAttributes bounds the free-form tail of an attribute map.
// Known attribute kinds are typed fields and do not count against it.
const MaxExtraAttributes = 16

// MaxAliasesPerEntity bounds stored alternative-name sets.
const MaxAliasesPerEntity = 24
