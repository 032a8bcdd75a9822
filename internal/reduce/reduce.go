// Package reduce implements the partial-object Downloader/Reducer of
// spec §4.2: parse a sidecar .idx file, compute the byte ranges covering
// only the selected fields, and fetch just those ranges instead of the
// full (often gigabyte-scale) forecast file. The fetched ranges are
// concatenated into an in-memory scratch buffer; no temp file is written.
// The ranged-GET idiom is grounded on the teacher's
// `processor.go` (`downloadFile`), generalized here to use
// `golang.org/x/sync/errgroup` for the bounded fan-out instead of the
// teacher's bespoke channel+WaitGroup pool (see SPEC_FULL.md DOMAIN
// STACK).
package reduce

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// FieldKey identifies one selected (index-short-name, index-level) pair,
// the key the sidecar index is matched against.
type FieldKey struct {
	ShortName string
	Level     string
}

// ByteRange is a half-open [Start, Start+Length) span within the
// forecast file.
type ByteRange struct {
	Start  int64
	Length int64
}

type indexRecord struct {
	offset    int64
	shortName string
	level     string
}

// ParseIndex parses the newline-delimited, colon-separated sidecar index
// format of spec §4.2 (`N:offset:date:short_name:level:forecast_hint:extra`)
// and returns the byte range for each selected field, with duplicate
// offsets (the U/V shared-header quirk) coalesced into one range. Ranges
// are returned in index order; a selected record with no following
// record (end of index) is dropped since its length cannot be computed.
func ParseIndex(idxText string, selected map[FieldKey]bool) ([]ByteRange, error) {
	var records []indexRecord
	for _, line := range strings.Split(idxText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 7)
		if len(parts) < 5 {
			continue
		}
		offset, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse index offset %q: %w", parts[1], err)
		}
		records = append(records, indexRecord{
			offset:    offset,
			shortName: parts[3],
			level:     parts[4],
		})
	}

	// Group consecutive records sharing an offset (step 3: "records at
	// identical offsets are coalesced to a single range").
	type group struct {
		offset   int64
		selected bool
	}
	var groups []group
	for _, rec := range records {
		key := FieldKey{ShortName: rec.shortName, Level: rec.level}
		isSelected := selected[key]
		if len(groups) > 0 && groups[len(groups)-1].offset == rec.offset {
			if isSelected {
				groups[len(groups)-1].selected = true
			}
			continue
		}
		groups = append(groups, group{offset: rec.offset, selected: isSelected})
	}

	var ranges []ByteRange
	for i := 0; i < len(groups)-1; i++ {
		if !groups[i].selected {
			continue
		}
		ranges = append(ranges, ByteRange{
			Start:  groups[i].offset,
			Length: groups[i+1].offset - groups[i].offset,
		})
	}
	return ranges, nil
}

// Reducer fetches the byte ranges computed by ParseIndex from the
// forecast file's URL, with per-range retry and per-range skip-on-giveup
// (spec §4.2 failure semantics).
type Reducer struct {
	HTTPClient *http.Client
	MaxRetries int
}

// NewReducer constructs a Reducer with the teacher's retry count (3) as
// the default.
func NewReducer(client *http.Client) *Reducer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Reducer{HTTPClient: client, MaxRetries: 3}
}

// FetchRanges issues one ranged GET per ByteRange against url, bounded to
// concurrency parallel fetches, and concatenates the results in range
// order into a single scratch buffer. A range that fails after
// MaxRetries attempts is skipped with a logged warning rather than
// failing the whole file (spec §4.2: "that range is skipped ... the
// decoder will simply not see that message").
func (r *Reducer) FetchRanges(ctx context.Context, url string, ranges []ByteRange, concurrency int) ([]byte, error) {
	chunks := make([][]byte, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, rng := range ranges {
		i, rng := i, rng
		g.Go(func() error {
			data, err := r.fetchOneRange(gctx, url, rng)
			if err != nil {
				log.Printf("reduce: giving up on range %d-%d of %s after %d attempts: %v",
					rng.Start, rng.Start+rng.Length, url, r.MaxRetries, err)
				return nil // skip, do not fail the whole fetch
			}
			chunks[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}

func (r *Reducer) fetchOneRange(ctx context.Context, url string, rng ByteRange) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < r.MaxRetries; attempt++ {
		data, err := r.fetchOnce(ctx, url, rng)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Reducer) fetchOnce(ctx context.Context, url string, rng ByteRange) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.Start+rng.Length-1))

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("range GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("range GET: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read range body: %w", err)
	}
	return data, nil
}
