package gateway

import (
	"regexp"
	"strings"
)

var kenyanMSISDN = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizeChannel converts a Kenyan mobile number to the 2547XXXXXXXX form
// the provider expects. Accepted inputs: +2547..., 2547..., 07..., 7... and
// the 01/1 Safaricom ranges. Spaces and dashes are ignored.
func NormalizeChannel(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")

	switch {
	case strings.HasPrefix(p, "254"):
	case strings.HasPrefix(p, "0") && len(p) == 10:
		p = "254" + p[1:]
	case len(p) == 9:
		p = "254" + p
	}

	if !kenyanMSISDN.MatchString(p) {
		return "", ErrInvalidChannel
	}
	return p, nil
}
