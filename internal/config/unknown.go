package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"server":      {"listen_addr", "shutdown_timeout", "read_header_timeout", "cors_allow_origin"},
	"drive":       {"default_root_id", "api_endpoint", "token_endpoint", "user_agent"},
	"credentials": {"client_id", "client_secret", "refresh_token"},
	"gate":        {"enabled", "token_param", "public_key_file", "public_key", "watch_key_file", "leeway"},
	"cache":       {"max_entries"},
	"logging":     {"log_level", "log_format"},
}

// knownSections is the sorted list of section names. Sorted for
// deterministic suggestions when two candidates have the same distance.
var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		msg := unknownKeyError(key)
		if msg == nil || reported[msg.Error()] {
			continue
		}

		reported[msg.Error()] = true
		errs = append(errs, msg)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. key[0] is the section (or a
// stray top-level key); key[1], when present, the field.
func unknownKeyError(key toml.Key) error {
	if len(key) == 0 {
		return nil
	}

	fields, ok := knownKeys[key[0]]
	if !ok || len(key) == 1 {
		if s := closestMatch(key[0], knownSections); s != "" {
			return fmt.Errorf("unknown config key %q - did you mean %q?", key[0], s)
		}

		return fmt.Errorf("unknown config key %q", key[0])
	}

	field := key[1]

	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	if s := closestMatch(field, sorted); s != "" {
		return fmt.Errorf("unknown config key %q in [%s] - did you mean %q?", field, key[0], s)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, key[0])
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
