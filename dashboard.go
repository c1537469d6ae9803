package pulsebridge

import _ "embed"

// DashboardHTML is the browser dashboard served by the web server.
//
//go:embed web/index.html
var DashboardHTML []byte
