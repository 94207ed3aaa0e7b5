package format

// Kind is the block-level kind of a display node
type Kind int

const (
	// KindParagraph is prose with no formatting; Text holds it verbatim
	KindParagraph Kind = iota
	// KindMarkup is prose with formatting; Blocks holds the structure and
	// Markup its HTML rendering
	KindMarkup
	// KindCode is a fenced code block; Text holds the body
	KindCode
)

func (k Kind) String() string {
	switch k {
	case KindParagraph:
		return "paragraph"
	case KindMarkup:
		return "markup"
	case KindCode:
		return "code"
	default:
		return "unknown"
	}
}

// Node is one display element produced by Format
type Node struct {
	Kind     Kind
	Language string
	Text     string
	Markup   string
	Blocks   []Block
}

// BlockKind classifies a line group inside a formatted paragraph
type BlockKind int

const (
	BlockText BlockKind = iota
	BlockQuote
	BlockList
	BlockRule
)

// Block is a line group inside a formatted paragraph. Text and quote blocks
// use Inlines; list blocks use Items.
type Block struct {
	Kind    BlockKind
	Ordered bool
	Inlines []Inline
	Items   [][]Inline
}

// InlineKind classifies a span of inline content
type InlineKind int

const (
	InlineText InlineKind = iota
	InlineStrong
	InlineEmphasis
	InlineCode
	InlineStrike
	InlineLink
	// InlineTag is markup already present in the input, kept verbatim
	InlineTag
)

// Inline is a span of formatted text. Text, code and tag spans use Text;
// the others nest Children. Links also carry Href.
type Inline struct {
	Kind     InlineKind
	Text     string
	Href     string
	Children []Inline
}
