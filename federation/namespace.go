package federation

import (
	"net/url"
	"strings"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// namespaceSeparator joins Iceberg REST namespace parts before URL encoding.
const namespaceSeparator = "\x1f"

// EncodeNamespace joins namespace parts with U+001F and percent-encodes the
// result for use in an Iceberg REST URL path.
func EncodeNamespace(parts []string) string {
	return url.PathEscape(strings.Join(parts, namespaceSeparator))
}

// DecodeNamespace reverses EncodeNamespace: percent-decode, then split on
// U+001F. Empty parts are rejected.
func DecodeNamespace(encoded string) ([]string, error) {
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return nil, oops.Code(errcode.InvalidArgument).Wrapf(err, "invalid namespace encoding %q", encoded)
	}
	if decoded == "" {
		return nil, nil
	}
	parts := strings.Split(decoded, namespaceSeparator)
	for _, p := range parts {
		if p == "" {
			return nil, oops.Code(errcode.InvalidArgument).Errorf("namespace contains an empty part: %q", encoded)
		}
	}
	return parts, nil
}
