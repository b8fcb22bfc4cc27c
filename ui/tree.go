// Package ui draws the plain-text boxes and trees used in run logs.
package ui

import (
	"strings"
	"unicode/utf8"
)

// Box and tree drawing characters
const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeContinue   = "│   "
	TreeIndent     = "    "

	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// DefaultBoxWidth is the width of the boxes in all.log.
const DefaultBoxWidth = 71

// BuildTreePrefix returns the connector for an entry at depth (1 = child of
// the root). parentIsLast tells, per ancestor level, whether that ancestor
// was the last of its siblings.
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth <= 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}

// BuildBoxHeader opens a box with a title row and a separator.
func BuildBoxHeader(title string, width int) string {
	width = max(width, utf8.RuneCountInString(title)+4)
	return BoxTopLeft + strings.Repeat(BoxHorizontal, width-2) + BoxTopRight + "\n" +
		BuildBoxLine(title, width) +
		BoxTeeRight + strings.Repeat(BoxHorizontal, width-2) + BoxTeeLeft + "\n"
}

// BuildBoxLine renders one padded row, truncating content that does not fit.
func BuildBoxLine(content string, width int) string {
	maxContent := max(width-4, 3)
	if utf8.RuneCountInString(content) > maxContent {
		content = string([]rune(content)[:maxContent-3]) + "..."
	}
	padding := maxContent - utf8.RuneCountInString(content)
	return BoxVertical + " " + content + strings.Repeat(" ", padding) + " " + BoxVertical + "\n"
}

func BuildBoxFooter(width int) string {
	return BoxBottomLeft + strings.Repeat(BoxHorizontal, max(width-2, 0)) + BoxBottomRight + "\n"
}
