package command

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errBadOutputURL = errors.New("output URL does not reference the output bucket")

// OutputKey derives the object key of captured output from the URL the
// command service reports.
//
// The regional path-style forms "https://s3-<region>.amazonaws.com/<bucket>/"
// and "https://s3.<region>.amazonaws.com/<bucket>/" are stripped directly.
// Other URLs are parsed and accepted when they address bucket either
// path-style or virtual-hosted style. The key is always returned unescaped.
func OutputKey(rawURL, bucket, region string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty", errBadOutputURL)
	}

	if region != "" {
		for _, prefix := range []string{
			"https://s3-" + region + ".amazonaws.com/" + bucket + "/",
			"https://s3." + region + ".amazonaws.com/" + bucket + "/",
		} {
			if escaped, ok := strings.CutPrefix(rawURL, prefix); ok && escaped != "" {
				key, err := url.PathUnescape(escaped)
				if err != nil {
					return "", fmt.Errorf("%w: %v", errBadOutputURL, err)
				}
				return key, nil
			}
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadOutputURL, err)
	}
	path := strings.TrimPrefix(u.Path, "/")

	var key string
	switch {
	case strings.HasPrefix(u.Host, bucket+"."):
		key = path
	case strings.HasPrefix(path, bucket+"/"):
		key = path[len(bucket)+1:]
	default:
		return "", fmt.Errorf("%w: %s", errBadOutputURL, rawURL)
	}
	if key == "" {
		return "", fmt.Errorf("%w: %s", errBadOutputURL, rawURL)
	}
	return key, nil
}
