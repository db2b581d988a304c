package hass

import "strings"

const (
	vendorApple   = "Apple"
	vendorGoogle  = "Google"
	vendorSamsung = "Samsung"
)

// ouis maps the first three octets of a MAC to a vendor. Only common
// phone and watch makers are listed.
var ouis = map[string]string{
	"00:03:93": vendorApple,
	"00:1C:B3": vendorApple,
	"3C:22:FB": vendorApple,
	"A4:83:E7": vendorApple,
	"CC:20:E8": vendorApple,
	"F0:18:98": vendorApple,
	"00:1A:11": vendorGoogle,
	"3C:5A:B4": vendorGoogle,
	"F4:F5:D8": vendorGoogle,
	"00:00:F0": vendorSamsung,
	"8C:77:12": vendorSamsung,
	"E8:50:8B": vendorSamsung,
}

// VendorByMAC returns the vendor of mac, or "" if unknown. Only the OUI
// is used, so a bare prefix such as "00:03:93" works too. Randomized
// (locally administered) addresses have no vendor.
func VendorByMAC(mac string) string {
	if len(mac) < 8 {
		return ""
	}
	return ouis[strings.ToUpper(mac[:8])]
}
