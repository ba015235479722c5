package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/graph"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"
)

// Format names a dataset encoding.
type Format string

const (
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// FormatForKey picks CSV for *.csv keys and NDJSON for everything else.
func FormatForKey(key string) Format {
	if strings.EqualFold(path.Ext(key), ".csv") {
		return FormatCSV
	}
	return FormatNDJSON
}

var csvColumns = map[string]bool{
	"kind":             true,
	"actor_id":         true,
	"name":             true,
	"contact_address":  true,
	"phone":            true,
	"physical_address": true,
	"payment_method":   true,
	"event_id":         true,
	"sender_id":        true,
	"receiver_id":      true,
	"amount":           true,
	"device_id":        true,
	"source_address":   true,
}

// parseCSV reads a header row naming the columns, then one entity per
// record. Actor and event records may share a file; empty cells are absent
// attributes.
func parseCSV(r io.Reader, res *Result) ([]actorLine, []eventLine, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}

	index := map[string]int{}
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if !csvColumns[col] {
			logger.Warn("[Import] Ignoring unknown csv column", "column", col)
			continue
		}
		index[col] = i
	}
	if _, ok := index["kind"]; !ok {
		return nil, nil, errors.New("csv header has no kind column")
	}

	var actors []actorLine
	var events []eventLine
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				res.fail(parseErr.Line, fmt.Errorf("%w: %v", graph.ErrInvalidEntity, parseErr.Err))
				continue
			}
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		if blankRecord(record) {
			continue
		}
		line, _ := reader.FieldPos(0)

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}
		// Cell values are kept verbatim so they match the same way as upserts.
		opt := func(col string) *string {
			if v := get(col); v != "" {
				return &v
			}
			return nil
		}

		switch common.EntityKind(strings.TrimSpace(get("kind"))) {
		case common.KindActor:
			actors = append(actors, actorLine{line: line, actor: sanitizeActor(common.Actor{
				ActorID:         get("actor_id"),
				Name:            opt("name"),
				ContactAddress:  opt("contact_address"),
				Phone:           opt("phone"),
				PhysicalAddress: opt("physical_address"),
				PaymentMethod:   opt("payment_method"),
			})})
		case common.KindEvent:
			e := common.Event{
				EventID:       get("event_id"),
				SenderID:      get("sender_id"),
				ReceiverID:    get("receiver_id"),
				DeviceID:      opt("device_id"),
				SourceAddress: opt("source_address"),
			}
			if raw := opt("amount"); raw != nil {
				amount, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
				if err != nil {
					res.fail(line, fmt.Errorf("%w: amount %q is not a number", graph.ErrInvalidEntity, *raw))
					continue
				}
				e.Amount = &amount
			}
			events = append(events, eventLine{line: line, event: sanitizeEvent(e)})
		default:
			res.fail(line, fmt.Errorf("%w: unknown kind %q", graph.ErrInvalidEntity, get("kind")))
		}
	}
	return actors, events, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
