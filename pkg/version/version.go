// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package version checks GitHub for newer releases of a repository.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
)

// Release is the subset of a GitHub release the checker cares about.
type Release struct {
	ID          int64      `json:"id"`
	TagName     string     `json:"tag_name"`
	Name        *string    `json:"name"`
	Body        *string    `json:"body"`
	HTMLURL     string     `json:"html_url"`
	Draft       bool       `json:"draft"`
	Prerelease  bool       `json:"prerelease"`
	PublishedAt *time.Time `json:"published_at"`
	Assets      []Asset    `json:"assets"`
}

// Asset is one downloadable artifact attached to a release.
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	ContentType        string `json:"content_type"`
	State              string `json:"state"`
	Size               int64  `json:"size"`
	DownloadCount      int64  `json:"download_count"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Checker queries the GitHub releases API for one repository.
type Checker struct {
	Owner     string
	Repo      string
	UserAgent string

	httpClient *http.Client
}

func NewChecker(owner, repo, userAgent string) *Checker {
	return &Checker{
		Owner:      owner,
		Repo:       repo,
		UserAgent:  userAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CheckNewVersion reports whether the latest published release is newer
// than the given version. Development builds never report an update.
func (c *Checker) CheckNewVersion(ctx context.Context, version string) (bool, *Release, error) {
	if isDevelop(version) {
		return false, nil, nil
	}

	release, err := c.getLatestRelease(ctx)
	if err != nil {
		return false, nil, err
	}

	return c.compareVersions(version, release)
}

func (c *Checker) getLatestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", c.Owner, c.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github releases request returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release response: %w", err)
	}
	return &release, nil
}

// compareVersions applies the update policy: prerelease tags are only
// offered to builds already running a prerelease.
func (c *Checker) compareVersions(current string, release *Release) (bool, *Release, error) {
	currentVersion, err := goversion.NewVersion(current)
	if err != nil {
		return false, nil, fmt.Errorf("parse current version %q: %w", current, err)
	}

	releaseVersion, err := goversion.NewVersion(release.TagName)
	if err != nil {
		return false, nil, fmt.Errorf("parse release tag %q: %w", release.TagName, err)
	}

	if releaseVersion.Prerelease() != "" && currentVersion.Prerelease() == "" {
		return false, nil, nil
	}

	if releaseVersion.GreaterThan(currentVersion) {
		return true, release, nil
	}
	return false, nil, nil
}

// isDevelop recognizes version strings produced by non-release builds.
func isDevelop(version string) bool {
	if version == "" {
		return true
	}
	lower := strings.ToLower(version)
	switch lower {
	case "dev", "develop", "main", "latest":
		return true
	}
	if strings.HasPrefix(lower, "pr-") {
		return true
	}
	return strings.HasSuffix(lower, "-dev") || strings.HasSuffix(lower, "-develop")
}
