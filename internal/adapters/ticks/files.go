package ticks

// files.go — tails the per-day quote logs written by the market-data logger.
//
// Each file is an append-only CSV with one header row. On first sight of a
// file only the header is recorded and the offset jumps to end-of-file: the
// engine acts on live data only, never replays history. Subsequent polls read
// forward from the stored byte offset, so processed bytes are never re-read.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// FileSource implements ports.TickSource over a directory of per-day CSVs.
type FileSource struct {
	dir     string
	offsets map[string]int64
	headers map[string][]string
}

// NewFileSource creates a source tailing *.csv files under dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{
		dir:     dir,
		offsets: make(map[string]int64),
		headers: make(map[string][]string),
	}
}

// Poll collects all new rows from all tracked files and returns them sorted
// by timestamp. Files appearing mid-run are picked up on the poll that first
// sees them and start yielding rows on the next.
func (s *FileSource) Poll() ([]domain.Quote, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("ticks: glob %s: %w", s.dir, err)
	}
	sort.Strings(files)

	var quotes []domain.Quote
	for _, file := range files {
		rows, err := s.readNew(file)
		if err != nil {
			// A single unreadable file must not stall the other markets.
			slog.Warn("ticks: error reading log", "file", file, "err", err)
			continue
		}
		quotes = append(quotes, rows...)
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].Timestamp.Before(quotes[j].Timestamp)
	})
	return quotes, nil
}

// readNew returns the quotes appended to file since the last poll.
func (s *FileSource) readNew(file string) ([]domain.Quote, error) {
	header, tracked := s.headers[file]
	if !tracked {
		// First sight: record the header, skip the backlog.
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		cols, err := csv.NewReader(f).Read()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, err
		}
		s.headers[file] = cols
		s.offsets[file] = end
		return nil, nil
	}

	// Seek past everything already consumed; processed bytes are never read
	// off disk again.
	offset := s.offsets[file]
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	// Only consume up to the last complete line; a row the logger is still
	// writing stays for the next poll.
	last := bytes.LastIndexByte(chunk, '\n')
	if last < 0 {
		return nil, nil
	}
	s.offsets[file] = offset + int64(last+1)

	r := csv.NewReader(bytes.NewReader(chunk[:last+1]))
	r.FieldsPerRecord = -1

	var quotes []domain.Quote
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		q, ok := parseRow(header, record)
		if !ok {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// parseRow maps a CSV record onto a Quote using the file's header. Rows
// missing both asks carry nothing executable and are discarded here.
func parseRow(header, record []string) (domain.Quote, bool) {
	field := func(name string) string {
		for i, col := range header {
			if col == name && i < len(record) {
				return strings.TrimSpace(record[i])
			}
		}
		return ""
	}

	ticker := field("market_ticker")
	if ticker == "" {
		return domain.Quote{}, false
	}

	ts, ok := parseTimestamp(field("timestamp"))
	if !ok {
		return domain.Quote{}, false
	}

	q := domain.Quote{
		Ticker:    ticker,
		Timestamp: ts,
		YesBid:    parsePrice(field("best_yes_bid")),
		NoBid:     parsePrice(field("best_no_bid")),
		YesAsk:    parsePrice(field("implied_yes_ask")),
		NoAsk:     parsePrice(field("implied_no_ask")),
	}
	if !q.Actionable() {
		return domain.Quote{}, false
	}
	return q, true
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parsePrice converts a price field to integer cents, NoPrice when absent.
func parsePrice(s string) int {
	if s == "" || strings.EqualFold(s, "nan") {
		return domain.NoPrice
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return domain.NoPrice
	}
	return int(math.Round(f))
}
