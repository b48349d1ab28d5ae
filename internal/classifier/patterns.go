// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package classifier

import "regexp"

// categoryTable holds the compiled signature patterns for one attack
// category together with its confidence base weight. Per-category
// contribution is baseWeight * min(matchCount, 3); the cap keeps a single
// noisy category from saturating the score on repetition alone.
type categoryTable struct {
	attack     AttackType
	baseWeight float64
	patterns   []*regexp.Regexp
}

// signatureTables are compiled once at package load. Order within a
// category reflects match frequency in observed payloads.
var signatureTables = []categoryTable{
	{
		attack:     AttackScriptInjection,
		baseWeight: 0.4,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)<\s*/?\s*script\b`),
			regexp.MustCompile(`(?i)javascript\s*:`),
			regexp.MustCompile(`(?i)vbscript\s*:`),
			regexp.MustCompile(`(?i)\beval\s*\(`),
			regexp.MustCompile(`(?i)new\s+Function\s*\(`),
			regexp.MustCompile(`(?i)<\s*iframe\b`),
		},
	},
	{
		attack:     AttackDOMSinkInjection,
		baseWeight: 0.35,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)document\s*\.\s*write(?:ln)?\s*\(`),
			regexp.MustCompile(`(?i)\.\s*innerHTML\s*=`),
			regexp.MustCompile(`(?i)\.\s*outerHTML\s*=`),
			regexp.MustCompile(`(?i)\.\s*insertAdjacentHTML\s*\(`),
			regexp.MustCompile(`(?i)(?:document|window)\s*\.\s*location\s*=`),
			regexp.MustCompile(`(?i)setTimeout\s*\(\s*["']`),
			regexp.MustCompile(`(?i)setAttribute\s*\(\s*["']on`),
		},
	},
	{
		attack:     AttackAttributeInjection,
		baseWeight: 0.3,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bon[a-z]{2,20}\s*=\s*["']`),
			regexp.MustCompile(`(?i)\b(?:formaction|srcdoc)\s*=`),
			regexp.MustCompile(`(?i)\b(?:href|src|action)\s*=\s*["']?\s*(?:javascript|vbscript|data)\s*:`),
			regexp.MustCompile(`(?i)style\s*=\s*["'][^"']*(?:expression|javascript)`),
		},
	},
	{
		attack:     AttackMarkupInjection,
		baseWeight: 0.25,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)<\s*(?:object|embed|applet|form|base|meta|link)\b`),
			regexp.MustCompile(`(?i)<\s*img\b[^>]*\bsrc\s*=`),
			regexp.MustCompile(`(?i)<\s*/?\s*(?:html|body|head|frameset)\b`),
			regexp.MustCompile(`<!\[CDATA\[`),
			regexp.MustCompile(`<!--`),
		},
	},
	{
		attack:     AttackStyleInjection,
		baseWeight: 0.2,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)expression\s*\(`),
			regexp.MustCompile(`(?i)@import\b`),
			regexp.MustCompile(`(?i)behavior\s*:`),
			regexp.MustCompile(`(?i)-moz-binding\s*:`),
			regexp.MustCompile(`(?i)url\s*\(\s*["']?\s*(?:javascript|vbscript|data)\s*:`),
		},
	},
}

// escapePatterns detect encoded/escaped content for the obfuscation
// ratio. These measure coverage, not maliciousness: the fraction of the
// content they match is compared against Config.EncodingRatioThreshold.
var escapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`%[0-9a-fA-F]{2}`),
	regexp.MustCompile(`\\x[0-9a-fA-F]{2}`),
	regexp.MustCompile(`\\u[0-9a-fA-F]{4}`),
	regexp.MustCompile(`&#x?[0-9a-fA-F]{1,6};`),
	regexp.MustCompile(`&(?:lt|gt|quot|amp|apos|nbsp);`),
}

// escapedCoverage returns the fraction of content covered by escape
// sequences. Overlaps between patterns are rare enough that summed match
// lengths are an acceptable approximation; the result is clamped to 1.
func escapedCoverage(content string) float64 {
	if len(content) == 0 {
		return 0
	}

	covered := 0
	for _, p := range escapePatterns {
		for _, m := range p.FindAllString(content, -1) {
			covered += len(m)
		}
	}

	ratio := float64(covered) / float64(len(content))
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}
