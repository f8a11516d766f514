package domain

import (
	"strconv"
	"strings"
)

// ExtractVersion splits name on its last ':' separator: "foo:7" -> ("foo",
// &7), "foo:latest" -> ("foo", nil), "foo" -> ("foo", nil), "foo:bar" ->
// ("foo:bar", nil) because "bar" doesn't parse as an integer or "latest".
func ExtractVersion(name string) (string, *int64) {
	idx := strings.LastIndex(name, ":")
	if idx < 0 {
		return name, nil
	}
	base, suffix := name[:idx], name[idx+1:]
	if suffix == "latest" {
		return base, nil
	}
	if v, err := strconv.ParseInt(suffix, 10, 64); err == nil {
		return base, &v
	}
	return name, nil
}

// QualifiedChildName concatenates a parent's qualified name with a child's
// short name using the registry's "__" separator.
func QualifiedChildName(parentQualifiedName, childName string) string {
	return parentQualifiedName + "__" + childName
}
