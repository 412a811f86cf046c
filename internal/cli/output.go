package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/store"
)

var outputJSON bool

// printRecords writes records to stdout as text or, with --json, as one
// JSON document per line.
func printRecords(records []*store.Record) {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, rec := range records {
			if err := enc.Encode(recordJSON(rec)); err != nil {
				exitError("failed to encode %s: %v", rec, err)
			}
		}
		return
	}
	for i, rec := range records {
		if i > 0 {
			fmt.Println()
		}
		writeRecord(os.Stdout, rec)
	}
}

func recordJSON(rec *store.Record) map[string]interface{} {
	out := map[string]interface{}{
		"id":   rec.ID(),
		"type": rec.Type(),
	}
	if attrs := rec.Attributes(); len(attrs) > 0 {
		out["attributes"] = attrs
	}
	if rels := rec.Relationships(); len(rels) > 0 {
		out["relationships"] = rels
	}
	return out
}

// writeRecord prints "type id" followed by sorted attributes and
// relationships.
func writeRecord(w io.Writer, rec *store.Record) {
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	yellow.Fprintf(w, "%s %s\n", rec.Type(), rec.ID())

	attrs := rec.Attributes()
	for _, k := range sortedKeys(attrs) {
		fmt.Fprintf(w, "  %s: %s\n", k, formatValue(attrs[k]))
	}

	rels := rec.Relationships()
	for _, k := range sortedKeys(rels) {
		cyan.Fprintf(w, "  %s", k)
		fmt.Fprintf(w, " -> %s\n", formatRelationship(rels[k]))
	}
}

func formatRelationship(ref interface{}) string {
	var parts []string
	if ids := models.RelatedIDs(ref); len(ids) > 0 {
		parts = append(parts, strings.Join(ids, ", "))
	}
	if link := models.RelatedLink(ref); link != "" {
		parts = append(parts, "("+link+")")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseQuery turns key=value arguments into a query map. Integers and
// booleans are typed; everything else stays a string.
func parseQuery(args []string) (map[string]interface{}, error) {
	query := make(map[string]interface{}, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid query term %q, expected key=value", arg)
		}
		query[k] = parseValue(v)
	}
	return query, nil
}

func parseValue(v string) interface{} {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if b, err := strconv.ParseBool(v); err == nil && (v == "true" || v == "false") {
		return b
	}
	return v
}

// printCounts prints a per-type count table.
func printCounts(title string, counts map[string]int) {
	color.New(color.Bold).Println(title)
	if len(counts) == 0 {
		fmt.Println("  (empty)")
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-20s %d\n", name, counts[name])
	}
}
