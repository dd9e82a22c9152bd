package domain

import "strings"

// gsmBasic is the GSM 03.38 default alphabet.
const gsmBasic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
	"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"

// gsmExtended characters take two septets.
const gsmExtended = "^{}\\[~]|€\f"

// SMSFragmentCount returns how many billable segments body needs.
func SMSFragmentCount(body string) int {
	septets := 0
	unicode := false
	for _, r := range body {
		switch {
		case strings.ContainsRune(gsmBasic, r):
			septets++
		case strings.ContainsRune(gsmExtended, r):
			septets += 2
		default:
			unicode = true
		}
	}

	if unicode {
		units := 0
		for _, r := range body {
			if r > 0xFFFF {
				units += 2
			} else {
				units++
			}
		}
		return fragments(units, 70, 67)
	}
	return fragments(septets, 160, 153)
}

func fragments(length, single, multi int) int {
	if length <= single {
		return 1
	}
	return (length + multi - 1) / multi
}

// IsInternationalNumber reports whether an E.164 number is outside the +1 zone.
func IsInternationalNumber(number string) bool {
	n := strings.TrimSpace(number)
	n = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(n)
	switch {
	case strings.HasPrefix(n, "+1"):
		return false
	case strings.HasPrefix(n, "+"):
		return true
	case strings.HasPrefix(n, "001"):
		return false
	case strings.HasPrefix(n, "00"):
		return true
	}
	return false
}
