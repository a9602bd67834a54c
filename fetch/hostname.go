package fetch

import (
	"net"
	"os"
	"strings"
)

// FQDN returns the fully qualified name of this host, falling back to the
// short hostname (or "localhost") when reverse lookup fails. Used to
// qualify file URIs and identify failure mails.
func FQDN() string {
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	addrs, err := net.LookupHost(host)
	if err == nil && len(addrs) > 0 {
		names, err := net.LookupAddr(addrs[0])
		if err == nil && len(names) > 0 {
			return strings.TrimSuffix(names[0], ".")
		}
	}
	return host
}

// QualifyFileURI builds a file:// URI for path on the given host,
// substituting this host's fully qualified name when the host is blank or
// localhost, so the URI is meaningful when distributed to other machines.
func QualifyFileURI(host, path string) string {
	if host == "" || host == "localhost" {
		host = FQDN()
	}
	return "file://" + host + path
}
