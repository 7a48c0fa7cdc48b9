package tools

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"pcappuller/internal/bounds"
)

// Plausible epoch range for the unlabeled fallback: 1990-01-01 to 2100-01-01 UTC.
const (
	minPlausibleEpoch = 631152000.0
	maxPlausibleEpoch = 4102444800.0
)

var (
	firstLabels = []string{"first packet time:", "earliest packet time:"}
	lastLabels  = []string{"last packet time:", "latest packet time:"}

	numberRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)
)

// ParseBounds extracts packet-time bounds from `capinfos -a -e -S` output.
// Labeled lines are preferred; otherwise the smallest and largest plausible
// epoch values anywhere in the output are used. Fewer than two plausible
// values leaves the bounds unresolved.
func ParseBounds(output string) (bounds.Bounds, bool) {
	if b, ok := parseLabeled(output); ok {
		return b, true
	}
	return parseNumeric(output)
}

func parseLabeled(output string) (bounds.Bounds, bool) {
	var first, last *float64
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		low := strings.ToLower(line)
		switch {
		case hasAnyPrefix(low, firstLabels):
			first = labelValue(line)
		case hasAnyPrefix(low, lastLabels):
			last = labelValue(line)
		}
	}
	if first == nil || last == nil {
		return bounds.Bounds{}, false
	}
	return bounds.Bounds{First: *first, Last: *last}, true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func labelValue(line string) *float64 {
	_, value, found := strings.Cut(line, ":")
	if !found {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseNumeric(output string) (bounds.Bounds, bool) {
	var (
		n      int
		lo, hi float64
	)
	for _, s := range numberRe.FindAllString(output, -1) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < minPlausibleEpoch || v > maxPlausibleEpoch {
			continue
		}
		if n == 0 || v < lo {
			lo = v
		}
		if n == 0 || v > hi {
			hi = v
		}
		n++
	}
	if n < 2 {
		return bounds.Bounds{}, false
	}
	return bounds.Bounds{First: lo, Last: hi}, true
}
