package httpapi

import _ "embed"

// adminPageContent is the single-page admin interface served at the root
// route. It drives the JSON API from the browser; no template rendering is
// involved.
//
//go:embed admin.html
var adminPageContent []byte
