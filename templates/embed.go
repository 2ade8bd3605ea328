package templates

import _ "embed"

//go:embed squid_outgoing.conf.tmpl
var SquidOutgoingTemplate string
