// Package templates renders the HTML pages of the web UI. The *.templ
// sources are compiled to *_templ.go with `templ generate`.
package templates

import (
	"net/url"
	"time"
)

//go:generate templ generate

const dateTimeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateTimeLayout)
}

func tableURL(table string) string {
	return "/tables/" + url.PathEscape(table)
}

// generationURL links one load of a table.
func generationURL(table, controlID string) string {
	return tableURL(table) + "?" + url.Values{"control_id": {controlID}}.Encode()
}
