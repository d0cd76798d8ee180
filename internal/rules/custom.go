// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/strikes"
)

// CustomEnv is the expression environment for rule_engine.custom_rules.
// Numeric fields that cannot be derived from the item are -1.
type CustomEnv struct {
	Title                string
	Protocol             string
	Status               string
	Size                 int64
	Sizeleft             int64
	Downloaded           int64
	Progress             float64
	Seeders              int64
	AgeSeconds           int64
	SinceProgressSeconds int64
	ClientState          string
	ClientPeers          int64
	ClientSeeds          int64
	Strikes              int
}

type compiledRule struct {
	name    string
	program *vm.Program
}

// compileRules compiles the configured expressions once at startup.
// Invalid rules are logged and skipped rather than failing the run.
func compileRules(rules []domain.CustomRule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Name == "" || r.When == "" {
			continue
		}
		program, err := expr.Compile(r.When, expr.Env(CustomEnv{}), expr.AsBool())
		if err != nil {
			log.Warn().Err(err).Str("rule", r.Name).Msg("skipping invalid custom rule")
			continue
		}
		out = append(out, compiledRule{name: r.Name, program: program})
	}
	return out
}

func buildEnv(item domain.Item, entry *strikes.Entry, now int64) CustomEnv {
	env := CustomEnv{
		Title:       item.Title(),
		Status:      item.Status(),
		ClientState: item.ClientState(),
		Strikes:     entry.Count,

		Size:        -1,
		Sizeleft:    -1,
		Downloaded:  -1,
		Progress:    -1,
		Seeders:     -1,
		ClientPeers: -1,
		ClientSeeds: -1,
	}
	if s, ok := item["protocol"].(string); ok {
		env.Protocol = s
	}
	if v, ok := item.Size(); ok {
		env.Size = v
	}
	if v, ok := item.SizeLeft(); ok {
		env.Sizeleft = v
	}
	if v, ok := item.DownloadedBytes(); ok {
		env.Downloaded = v
	}
	if v, ok := item.ProgressPercent(); ok {
		env.Progress = v
	}
	if v, ok := item.Seeders(); ok {
		env.Seeders = v
	}
	if v, ok := item.ClientPeers(); ok {
		env.ClientPeers = v
	}
	if v, ok := item.ClientSeeds(); ok {
		env.ClientSeeds = v
	}

	firstSeen := entry.FirstSeenTS
	if firstSeen == 0 {
		firstSeen = now
	}
	env.AgeSeconds = now - firstSeen
	lp := firstSeen
	if entry.LastProgressTS != nil {
		lp = *entry.LastProgressTS
	}
	env.SinceProgressSeconds = now - lp

	return env
}

// evalCustom runs the compiled rules in order; the first one that yields
// true names the reason.
func (rs *RuleSet) evalCustom(service string, item domain.Item, entry *strikes.Entry, now int64) string {
	if len(rs.custom) == 0 {
		return ""
	}
	env := buildEnv(item, entry, now)
	for _, rule := range rs.custom {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			log.Debug().Err(err).Str("service", service).Str("rule", rule.name).Msg("custom rule evaluation failed")
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return domain.ReasonCustomPrefix + rule.name
		}
	}
	return ""
}
