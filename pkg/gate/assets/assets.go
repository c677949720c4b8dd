// Package assets embeds the stylesheet and script served under /static/.
package assets

import (
	_ "embed"
)

//go:embed static/styles.css
var embeddedCSS string

// GetEmbeddedCSS returns the page stylesheet.
func GetEmbeddedCSS() string {
	return embeddedCSS
}

// Progressive enhancement for the check form: posts forms as JSON
// requests and swaps in the returned fragment.
//
//go:embed static/home.js
var embeddedJS string

// GetEmbeddedJS returns the page script.
func GetEmbeddedJS() string {
	return embeddedJS
}
