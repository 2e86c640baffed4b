package param

import "strings"

// Qualify maps a bare parameter name into the registry namespace.
// The namespace is normalised to a leading "/" without a trailing one, so
// "tango", "/tango" and "/tango/" all give "/tango/<name>". An empty
// namespace is the root.
//
// name must be bare; qualifying an already qualified name nests it again.
func Qualify(name, namespace string) string {
	ns := strings.Trim(namespace, "/")
	if ns == "" {
		return "/" + name
	}
	return "/" + ns + "/" + name
}
