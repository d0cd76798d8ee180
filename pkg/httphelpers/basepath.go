// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package httphelpers holds small HTTP utilities shared by servers and
// outbound clients.
package httphelpers

import (
	"path"
	"strings"
)

// NormalizeBasePath canonicalizes a configured base path: trimmed, a single
// leading slash, no trailing slash. The root path normalizes to "".
func NormalizeBasePath(basePath string) string {
	s := strings.TrimSpace(basePath)
	s = strings.TrimRight(s, "/")
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}

// JoinBasePath joins a normalized base path with a route suffix, always
// returning an absolute path.
func JoinBasePath(basePath, suffix string) string {
	return path.Join("/", basePath, suffix)
}
