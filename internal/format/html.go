package format

import (
	"html"
	"strings"
)

// HTML renders nodes as an HTML fragment. Paragraph and code text is
// escaped; Markup is emitted as is.
func HTML(nodes []Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		switch n.Kind {
		case KindCode:
			class := ""
			if n.Language != "" {
				class = ` class="language-` + html.EscapeString(n.Language) + `"`
			}
			parts = append(parts, `<pre class="code-block"><code`+class+`>`+html.EscapeString(n.Text)+`</code></pre>`)
		case KindMarkup:
			parts = append(parts, "<div>"+n.Markup+"</div>")
		default:
			parts = append(parts, "<p>"+html.EscapeString(n.Text)+"</p>")
		}
	}
	return strings.Join(parts, "\n")
}

func renderBlocks(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case BlockText:
			parts = append(parts, renderInlines(b.Inlines))
		case BlockQuote:
			parts = append(parts, "<blockquote>"+renderInlines(b.Inlines)+"</blockquote>")
		case BlockRule:
			parts = append(parts, "<hr />")
		case BlockList:
			open := "<ul>"
			if b.Ordered {
				open = `<ul class="ordered-list">`
			}
			items := make([]string, len(b.Items))
			for i, item := range b.Items {
				items[i] = "<li>" + renderInlines(item) + "</li>"
			}
			parts = append(parts, open+strings.Join(items, "\n")+"</ul>")
		}
	}
	return strings.Join(parts, "\n")
}

func renderInlines(spans []Inline) string {
	var sb strings.Builder
	for _, in := range spans {
		switch in.Kind {
		case InlineText, InlineTag:
			sb.WriteString(in.Text)
		case InlineStrong:
			sb.WriteString("<strong>" + renderInlines(in.Children) + "</strong>")
		case InlineEmphasis:
			sb.WriteString("<em>" + renderInlines(in.Children) + "</em>")
		case InlineCode:
			sb.WriteString(`<code class="inline-code">` + html.EscapeString(in.Text) + "</code>")
		case InlineStrike:
			sb.WriteString("<del>" + renderInlines(in.Children) + "</del>")
		case InlineLink:
			sb.WriteString(`<a href="` + html.EscapeString(in.Href) + `" target="_blank" rel="noopener noreferrer">` +
				renderInlines(in.Children) + "</a>")
		}
	}
	return sb.String()
}
