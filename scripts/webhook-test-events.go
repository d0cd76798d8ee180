// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Manual test harness for notification destinations. Sends one sample
// removal event per reason to a real webhook so payload formatting can
// be checked end to end:
//
//	go run ./scripts/webhook-test-events.go -url https://discord.com/api/webhooks/... -type discord
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/notifications"
)

const defaultTimeout = 15 * time.Second

type fixture struct {
	name    string
	service string
	reason  string
	item    domain.Item
}

func main() {
	url := flag.String("url", "", "destination webhook url (required)")
	destType := flag.String("type", domain.DestinationDiscord, "destination type: discord, slack or generic")
	batch := flag.Bool("batch", false, "queue all samples and send a single batched payload")
	rawJSON := flag.Bool("raw-json", false, "generic only: send structured event JSON instead of text")
	template := flag.String("template", "", "override the line template")
	reasonFilter := flag.String("reason", "", "send only these reasons (comma-separated)")
	dryRun := flag.Bool("dry-run", false, "mark payloads as dry-run")
	timeout := flag.Duration("timeout", defaultTimeout, "overall timeout")
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "-url is required")
		os.Exit(1)
	}

	fixtures := buildFixtures()
	if filter := buildFilter(*reasonFilter); len(filter) > 0 {
		fixtures = filterFixtures(fixtures, filter)
		if len(fixtures) == 0 {
			fmt.Fprintf(os.Stderr, "no matching reasons for filter: %s\n", *reasonFilter)
			printAvailableReasons()
			os.Exit(1)
		}
	}

	dest := domain.Destination{
		Name:     "webhook-test",
		Type:     *destType,
		URL:      *url,
		Batch:    *batch,
		Template: *template,
		RawJSON:  *rawJSON,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc := notifications.NewService([]domain.Destination{dest}, *dryRun)
	for _, f := range fixtures {
		svc.Handle(ctx, f.service, f.item, f.reason)
		if *batch {
			fmt.Printf("queued %s\n", f.name)
			continue
		}
		fmt.Printf("sent %s\n", f.name)
	}

	if *batch {
		svc.Flush(ctx)
		fmt.Printf("flushed %d queued samples\n", len(fixtures))
	}
}

func buildFixtures() []fixture {
	return []fixture{
		{
			name:    "stalled torrent",
			service: domain.ServiceSonarr,
			reason:  domain.ReasonStalled,
			item: domain.Item{
				"id": float64(101), "title": "Some.Show.S01E02.1080p.WEB.H264-GRP",
				"status": "warning", "protocol": "torrent",
				"size": float64(2_500_000_000), "sizeleft": float64(2_100_000_000),
				"indexer": "PrivateHD", "downloadId": "AB12CD34",
			},
		},
		{
			name:    "low seeders",
			service: domain.ServiceRadarr,
			reason:  domain.ReasonLowSeeders,
			item: domain.Item{
				"id": float64(202), "title": "Some.Movie.2024.2160p.BluRay.x265-GRP",
				"status": "downloading", "protocol": "torrent",
				"size": float64(18_000_000_000), "sizeleft": float64(17_500_000_000),
				"indexer": "TorrentLeech",
			},
		},
		{
			name:    "large zero seeders",
			service: domain.ServiceRadarr,
			reason:  domain.ReasonLargeZeroSeeders,
			item: domain.Item{
				"id": float64(203), "title": "Some.Movie.2023.Remux.1080p.AVC-GRP",
				"status": "downloading", "protocol": "torrent",
				"size": float64(32_000_000_000), "sizeleft": float64(31_000_000_000),
			},
		},
		{
			name:    "max queue age",
			service: domain.ServiceLidarr,
			reason:  domain.ReasonMaxAge,
			item: domain.Item{
				"id": float64(303), "title": "Some Artist - Some Album (2023) FLAC",
				"status": "downloading", "protocol": "usenet",
				"size": float64(600_000_000), "sizeleft": float64(580_000_000),
			},
		},
		{
			name:    "no progress timeout",
			service: domain.ServiceSonarr,
			reason:  domain.ReasonNoProgressTimeout,
			item: domain.Item{
				"id": float64(104), "title": "Another.Show.S02E05.720p.HDTV.x264-GRP",
				"status": "downloading", "protocol": "torrent",
				"size": float64(900_000_000), "sizeleft": float64(450_000_000),
			},
		},
		{
			name:    "below minimum speed",
			service: domain.ServiceSonarr,
			reason:  domain.ReasonMinSpeed,
			item: domain.Item{
				"id": float64(105), "title": "Slow.Show.S03E01.1080p.WEB.H264-GRP",
				"status": "downloading", "protocol": "torrent",
				"size": float64(1_400_000_000), "sizeleft": float64(1_300_000_000),
			},
		},
		{
			name:    "client reports stalled",
			service: domain.ServiceRadarr,
			reason:  domain.ReasonClientState,
			item: domain.Item{
				"id": float64(204), "title": "Stuck.Movie.2022.1080p.WEB.H264-GRP",
				"status": "downloading", "protocol": "torrent",
				"downloadId": "FE98DC76",
			},
		},
		{
			name:    "tracker error",
			service: domain.ServiceSonarr,
			reason:  domain.ReasonTrackerError,
			item: domain.Item{
				"id": float64(106), "title": "Errored.Show.S01E09.1080p.WEB.H264-GRP",
				"status": "warning", "protocol": "torrent",
				"errorMessage": "Unregistered torrent",
			},
		},
		{
			name:    "indexer failure policy",
			service: domain.ServiceSonarr,
			reason:  domain.ReasonIndexerFailurePolicy,
			item: domain.Item{
				"id": float64(107), "title": "Flaky.Show.S04E02.1080p.WEB.H264-GRP",
				"status": "warning", "protocol": "torrent",
				"indexer": "brokentracker",
			},
		},
		{
			name:    "strike limit",
			service: domain.ServiceRadarr,
			reason:  domain.ReasonStrikeLimit,
			item: domain.Item{
				"id": float64(205), "title": "Repeat.Offender.2021.1080p.BluRay.x264-GRP",
				"status": "warning", "protocol": "torrent",
			},
		},
		{
			name:    "custom rule",
			service: domain.ServiceSonarr,
			reason:  domain.ReasonCustomPrefix + "stuck-sample",
			item: domain.Item{
				"id": float64(108), "title": "Sample.Show.S01E01.SAMPLE.1080p.WEB.H264-GRP",
				"status": "downloading", "protocol": "torrent",
			},
		},
	}
}

func buildFilter(raw string) map[string]struct{} {
	filter := make(map[string]struct{})
	if strings.TrimSpace(raw) == "" {
		return filter
	}
	for part := range strings.SplitSeq(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			filter[value] = struct{}{}
		}
	}
	return filter
}

func filterFixtures(fixtures []fixture, filter map[string]struct{}) []fixture {
	kept := make([]fixture, 0, len(fixtures))
	for _, f := range fixtures {
		if _, ok := filter[f.reason]; ok {
			kept = append(kept, f)
		}
	}
	return kept
}

func printAvailableReasons() {
	fmt.Fprintln(os.Stderr, "available reasons:")
	for _, f := range buildFixtures() {
		fmt.Fprintf(os.Stderr, "- %s\n", f.reason)
	}
}
