package zarrhttp

import (
	"fmt"
	"regexp"
	"strings"
)

// compileImagePattern turns a configured path template such as
// "/image/{image}.zarr/" into a regexp that captures the numeric image
// id and the remainder of the path after the template's fixed suffix,
// per spec.md §4.4 "the path template, after substituting the image id
// placeholder with the regex (\d+), gives a prefix P(imageId)".
func compileImagePattern(template string) (*regexp.Regexp, error) {
	const placeholder = "{image}"
	i := strings.Index(template, placeholder)
	if i < 0 {
		return nil, fmt.Errorf("zarrhttp: net.path.image template %q is missing the %s placeholder", template, placeholder)
	}
	prefix := template[:i]
	suffix := template[i+len(placeholder):]
	pattern := "^" + regexp.QuoteMeta(prefix) + `(\d+)` + regexp.QuoteMeta(suffix) + "(.*)$"
	return regexp.MustCompile(pattern), nil
}
