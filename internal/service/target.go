package service

import (
	"strings"

	"relay-proxy-go/internal/model"
)

// BuildTargetURL resolves the absolute upstream URL for req.
//
// An absolute http(s) URL in Path is used as-is and Host, UseHTTPS and
// QueryString are ignored, even when they disagree with it. Otherwise the
// URL is scheme://Host+Path, with QueryString appended verbatim; it is
// expected to be percent-encoded already.
func BuildTargetURL(req *model.ProxyRequest) (string, error) {
	if isAbsoluteURL(req.Path) {
		return req.Path, nil
	}

	if req.Host == "" {
		return "", newConfigurationError("No target host specified in request")
	}

	target := req.Scheme() + "://" + req.Host + req.Path
	if req.QueryString != "" {
		target += "?" + req.QueryString
	}
	return target, nil
}

func isAbsoluteURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
