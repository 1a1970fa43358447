// Package imaging reads a ddrescue-equivalent ".map" recovery log and
// derives the rescued fraction and resulting medium health (spec.md
// §6: "the core reads the map and classifies health").
package imaging

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
)

// MapReader parses a recovery map's block status lines and reports the
// fraction of the image successfully rescued.
type MapReader struct{}

// block is one line of a ddrescue-style map: position, size, status
// ('+' rescued, '-' not tried, '*' bad sector, '/' non-trimmed).
type block struct {
	size   int64
	status byte
}

// RescuedFraction parses r and returns the fraction of total bytes
// marked rescued ('+').
func (MapReader) RescuedFraction(r io.Reader) (float64, error) {
	blocks, err := parseBlocks(r)
	if err != nil {
		return 0, err
	}
	var total, rescued int64
	for _, b := range blocks {
		total += b.size
		if b.status == '+' {
			rescued += b.size
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("imaging: map contains no blocks")
	}
	return float64(rescued) / float64(total), nil
}

func parseBlocks(r io.Reader) ([]block, error) {
	scanner := bufio.NewScanner(r)
	var blocks []block
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		size, err := strconv.ParseInt(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("imaging: parse block size %q: %w", fields[1], err)
		}
		blocks = append(blocks, block{size: size, status: fields[2][0]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("imaging: scan map: %w", err)
	}
	return blocks, nil
}

// Classify maps a rescued fraction to a medium health enum using the
// configured thresholds (spec.md §6: "ok if >=99.99% rescued, incomplete
// if >=90%, failed otherwise" — the exact cutoffs are policy, resolved
// via config.ImagingHealthThresholds per spec.md §9's open question).
func Classify(fraction float64, thresholds config.ImagingHealthThresholds) catalog.Health {
	switch {
	case fraction >= thresholds.OKMinFraction:
		return catalog.HealthOK
	case fraction >= thresholds.IncompleteMinFraction:
		return catalog.HealthIncomplete
	default:
		return catalog.HealthFailed
	}
}

// RefuseProcessing reports whether a medium at the given health must be
// refused without an explicit force override (spec.md §6: "refuse to
// mount/process failed unless explicitly forced").
func RefuseProcessing(h catalog.Health, forced bool) bool {
	return h == catalog.HealthFailed && !forced
}
