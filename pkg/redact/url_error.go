// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package redact strips credentials out of errors before they reach logs.
package redact

import (
	"errors"
	"net/url"
	"strings"
)

// sensitiveParams are query parameter names whose values never belong in a
// log line.
var sensitiveParams = []string{"apikey", "api_key", "token", "passkey", "password"}

// URLError returns err with any *url.Error in its chain rewritten so
// sensitive query parameters read REDACTED. Errors without a *url.Error
// pass through unchanged; nil stays nil.
func URLError(err error) error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	return &url.Error{
		Op:  urlErr.Op,
		URL: redactURL(urlErr.URL),
		Err: urlErr.Err,
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		// Unparseable URLs could hide anything, so drop the query outright.
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i] + "?REDACTED"
		}
		return raw
	}

	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
		}
	}

	values := u.Query()
	changed := false
	for key := range values {
		if isSensitiveParam(key) {
			values.Set(key, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = values.Encode()
	}
	return u.String()
}

func isSensitiveParam(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range sensitiveParams {
		if lower == name {
			return true
		}
	}
	return false
}
