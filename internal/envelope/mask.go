package envelope

import "strings"

// MaskMobile hides all but the last four digits: "******1234".
func MaskMobile(mobile string) string {
	if len(mobile) < 4 {
		return "****"
	}
	return strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-4:]
}

// MaskAadhaar renders a 12-digit Aadhaar number as "XXXX-XXXX-1234".
func MaskAadhaar(aadhaar string) string {
	if len(aadhaar) != 12 {
		return "XXXX-XXXX-XXXX"
	}
	return "XXXX-XXXX-" + aadhaar[8:]
}
