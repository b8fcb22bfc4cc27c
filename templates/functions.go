package templates

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// GetTemplateFunc returns the centralized template functions used across the application
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": FormatDuration,
		"formatSeconds": func(s float64) string {
			return FormatDuration(time.Duration(s * float64(time.Second)))
		},
		"formatPercent": FormatPercent,
		"formatDelta": func(d *float64) string {
			if d == nil {
				return "n/a"
			}
			return fmt.Sprintf("%+.1f", *d)
		},
		"bandClass": BandClass,
		"bandLabel": func(b types.Band) string {
			return b.Label()
		},
		"statusClass": func(ok bool) string {
			if ok {
				return "pass"
			}
			return "fail"
		},
		"statusText": func(ok bool) string {
			if ok {
				return "PASS"
			}
			return "FAIL"
		},
	}
}

// FormatDuration renders sub-second durations in milliseconds.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// FormatPercent renders a coverage value, or "no data" for nil.
func FormatPercent(p *float64) string {
	if p == nil {
		return "no data"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

// BandClass is the CSS class for a band. Every color in the report derives from it.
func BandClass(b types.Band) string {
	if b == "" {
		b = types.BandNoData
	}
	return "band-" + strings.ReplaceAll(string(b), "_", "-")
}
