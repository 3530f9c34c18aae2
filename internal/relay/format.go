package relay

import (
	"strings"
)

const titlePlaceholder = "N/A"

// Telegram legacy Markdown only needs escaping outside entities.
var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// code wraps s in a code span. Backticks cannot be escaped inside one, so
// they are replaced.
func code(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}

// announcement is the text sent to every matching destination.
func announcement(ev ReleaseEvent) string {
	title := ev.Title
	if title == "" {
		title = titlePlaceholder
	}
	var b strings.Builder
	b.WriteString("🚀 New release published!\n")
	b.WriteString(code(ev.RepoFullName) + " has a new release ✨\n\n")
	b.WriteString("*Version*: " + code(ev.TagName) + "\n")
	b.WriteString("*Title*: " + escapeMarkdown(title) + "\n")
	b.WriteString("*Author*: " + code(ev.AuthorLogin) + "\n\n")
	b.WriteString("[View the release](" + ev.ReleaseURL + ")")
	return b.String()
}

// assetCaption is the document caption for one asset.
func assetCaption(ev ReleaseEvent, fileName string) string {
	var b strings.Builder
	b.WriteString("📦 Release asset\n")
	b.WriteString("*Repo*: " + code(ev.RepoFullName) + "\n")
	b.WriteString("*Version*: " + code(ev.TagName) + "\n\n")
	b.WriteString("📄 *File*: " + code(fileName))
	return b.String()
}

// SanitizeFileName keeps the last extension and turns every other dot into
// a dash: "v1.2.3.zip" becomes "v1-2-3.zip". Telegram mangles some
// multi-dot names on download.
func SanitizeFileName(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return name
	}
	return strings.ReplaceAll(name[:i], ".", "-") + name[i:]
}
