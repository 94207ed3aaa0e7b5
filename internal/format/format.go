// Package format turns chat message content into display nodes.
//
// Content is split on triple-backtick fences first. Fenced segments become
// code nodes; everything else is split into paragraphs, and each paragraph is
// tokenized line by line (rules, quotes, list items, text) and then inline
// (bold, italic, code, strikethrough, links) in a single pass. Markup tags
// already present in the input are carried through untouched, so formatting
// the Markup of a node again yields the same Markup.
package format

import (
	"regexp"
	"strings"
)

const fence = "```"

var (
	unorderedItem = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
	orderedItem   = regexp.MustCompile(`^\s*\d+\.\s+(.*)$`)
)

type segment struct {
	text   string
	fenced bool
}

// Format converts content into an ordered list of display nodes
func Format(content string) []Node {
	var nodes []Node
	for _, seg := range splitFences(content) {
		if seg.fenced {
			nodes = append(nodes, codeNode(seg.text))
			continue
		}
		nodes = append(nodes, formatProse(seg.text)...)
	}
	return nodes
}

// splitFences separates fenced code from prose, keeping input order. An
// opening fence with no closing fence is left in the prose.
func splitFences(s string) []segment {
	var segs []segment
	for {
		start := strings.Index(s, fence)
		if start < 0 {
			break
		}
		end := strings.Index(s[start+len(fence):], fence)
		if end < 0 {
			break
		}
		end += start + len(fence)

		if start > 0 {
			segs = append(segs, segment{text: s[:start]})
		}
		segs = append(segs, segment{text: s[start+len(fence) : end], fenced: true})
		s = s[end+len(fence):]
	}
	if s != "" {
		segs = append(segs, segment{text: s})
	}
	return segs
}

// codeNode reads the language tag from the first line of a fenced segment.
// A single-line fence is all tag and has an empty body.
func codeNode(inner string) Node {
	first, body, _ := strings.Cut(inner, "\n")
	return Node{Kind: KindCode, Language: strings.TrimSpace(first), Text: strings.TrimSpace(body)}
}

func formatProse(text string) []Node {
	var nodes []Node
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.Trim(para, "\n")
		if strings.TrimSpace(para) == "" {
			continue
		}
		nodes = append(nodes, formatParagraph(para))
	}
	return nodes
}

func formatParagraph(para string) Node {
	blocks := parseBlocks(para)
	if isPlain(blocks) {
		return Node{Kind: KindParagraph, Text: para}
	}
	return Node{Kind: KindMarkup, Blocks: blocks, Markup: renderBlocks(blocks)}
}

func parseBlocks(para string) []Block {
	var (
		blocks []Block
		text   []string
	)
	flush := func() {
		if len(text) == 0 {
			return
		}
		blocks = append(blocks, Block{Kind: BlockText, Inlines: parseInline(strings.Join(text, "\n"))})
		text = nil
	}

	for _, line := range strings.Split(para, "\n") {
		switch {
		case line == "---":
			flush()
			blocks = append(blocks, Block{Kind: BlockRule})
		case strings.HasPrefix(line, "> "):
			flush()
			blocks = append(blocks, Block{Kind: BlockQuote, Inlines: parseInline(line[2:])})
		default:
			if m := unorderedItem.FindStringSubmatch(line); m != nil {
				flush()
				blocks = appendItem(blocks, false, parseInline(m[1]))
				continue
			}
			if m := orderedItem.FindStringSubmatch(line); m != nil {
				flush()
				blocks = appendItem(blocks, true, parseInline(m[1]))
				continue
			}
			text = append(text, line)
		}
	}
	flush()
	return blocks
}

// appendItem extends the trailing list when it has the same kind, so a run
// of items is wrapped exactly once
func appendItem(blocks []Block, ordered bool, item []Inline) []Block {
	if n := len(blocks); n > 0 {
		last := &blocks[n-1]
		if last.Kind == BlockList && last.Ordered == ordered {
			last.Items = append(last.Items, item)
			return blocks
		}
	}
	return append(blocks, Block{Kind: BlockList, Ordered: ordered, Items: [][]Inline{item}})
}

func isPlain(blocks []Block) bool {
	for _, b := range blocks {
		if b.Kind != BlockText {
			return false
		}
		for _, in := range b.Inlines {
			if in.Kind != InlineText {
				return false
			}
		}
	}
	return true
}
