package monitor

import (
	"regexp"
	"strings"
)

// digits right after the technology separator:
// PJSIP/9000-00000001, SIP/2001, Local/9000@from-queue/n, IAX2:3001
var extRe = regexp.MustCompile(`[:/](\d+)`)

// ExtractExtension returns the extension encoded in an AMI channel,
// device or interface string.
func ExtractExtension(v string) (string, bool) {
	m := extRe.FindStringSubmatch(v)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Technology is the channel driver prefix ("PJSIP", "Local", ...).
func Technology(v string) string {
	if i := strings.IndexAny(v, "/:"); i > 0 {
		return v[:i]
	}
	return ""
}

var virtualTechs = map[string]bool{
	"local":  true,
	"custom": true,
	"queue":  true,
}

// IsVirtualDevice reports whether the device belongs to a non-physical
// technology whose state says nothing about an agent's phone.
func IsVirtualDevice(device string) bool {
	return virtualTechs[strings.ToLower(Technology(device))]
}

// ParseMemberData parses a static member definition such as
// "Local/9000@from-queue/n,0" into its interface and extension.
func ParseMemberData(data string) (iface, ext string, ok bool) {
	iface = strings.TrimSpace(strings.SplitN(data, ",", 2)[0])
	ext, ok = ExtractExtension(iface)
	return iface, ext, ok
}
