package carddav

import "strings"

// hrefForResource maps a contact resource name (e.g. "people/c123") to
// its addressbook-relative href ("/addressbook/people_c123.vcf"): '/'
// becomes '_' and a fixed .vcf suffix is appended.
func hrefForResource(resourceName string) string {
	return "/addressbook/" + strings.ReplaceAll(resourceName, "/", "_") + ".vcf"
}

// resourceForHref is the inverse of hrefForResource. It accepts either
// an absolute href or a bare id (with or without the .vcf suffix), and
// returns "", false if href does not name a resource under
// /addressbook/.
func resourceForHref(href string) (string, bool) {
	h := strings.TrimSpace(href)
	switch {
	case strings.HasPrefix(h, "/addressbook/"):
		h = strings.TrimPrefix(h, "/addressbook/")
	case strings.HasPrefix(h, "addressbook/"):
		h = strings.TrimPrefix(h, "addressbook/")
	}
	h = strings.TrimSuffix(h, ".vcf")
	if h == "" || strings.Contains(h, "/") {
		return "", false
	}
	return strings.ReplaceAll(h, "_", "/"), true
}
