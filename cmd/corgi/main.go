// Command-line entry point for the corgi VIN decoder.
//
// Note about input formats
// ------------------------
// The decode subcommand takes a single VIN as a positional argument. The
// batch subcommand reads JSONL: each line is either a bare string VIN or an
// object {"vin": "...", "model_year": 2024}; both are autodetected.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cardog-ai/corgi/internal/decode"
	"github.com/cardog-ai/corgi/internal/storage"
)

// Exit codes per the CLI contract.
const (
	exitOK         = 0
	exitInvalidVIN = 1
	exitCatalog    = 2
	exitUsage      = 64
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "corgi - offline VIN decoder")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  corgi decode [-catalog file] [-overlay file] [-patterns] [-raw] [-format text|json] [-model-year N] VIN")
	fmt.Fprintln(w, "  corgi batch [-catalog file] [-input vins.jsonl] [-output out.json] [-pretty] [-stats] [-db history.db]")
	fmt.Fprintln(w, "  corgi stats -db history.db")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "The catalog path may also be set via CORGI_CATALOG.")
	fmt.Fprintln(w, "")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(exitUsage)
	}
	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "decode":
		os.Exit(runDecode(os.Args[2:]))
	case "batch":
		os.Exit(runBatch(os.Args[2:]))
	case "stats":
		os.Exit(runStats(os.Args[2:]))
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(exitUsage)
	}
}

// envOr returns the environment value or a default.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// openDecoder builds a decoder from the -catalog / -overlay flags.
func openDecoder(catalogPath, overlay string) (*decode.Decoder, error) {
	if catalogPath == "" {
		return nil, errors.New("no catalog: pass -catalog or set CORGI_CATALOG")
	}
	cfg := decode.Config{}
	if overlay != "" {
		cfg.OverlayPaths = strings.Split(overlay, ",")
	}
	return decode.New(catalogPath, cfg)
}

func runDecode(args []string) int {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	catalogPath := fs.String("catalog", envOr("CORGI_CATALOG", ""), "Catalog file (.db or .db.gz)")
	overlay := fs.String("overlay", envOr("CORGI_OVERLAY", ""), "Community overlay file(s), comma-separated")
	patterns := fs.Bool("patterns", false, "Include ranked pattern matches")
	raw := fs.Bool("raw", false, "Include raw attribute values")
	format := fs.String("format", "text", "Output format: text or json")
	modelYear := fs.Int("model-year", 0, "Model year override")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "decode requires exactly one VIN argument")
		usage(os.Stderr)
		return exitUsage
	}
	if *format != "text" && *format != "json" {
		fmt.Fprintf(os.Stderr, "Unknown format: %s\n", *format)
		return exitUsage
	}

	decoder, err := openDecoder(*catalogPath, *overlay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Catalog error: %v\n", err)
		return exitCatalog
	}
	defer func() { _ = decoder.Close() }()

	res := decoder.Decode(context.Background(), fs.Arg(0), &decode.Options{
		ModelYear:             *modelYear,
		IncludePatternDetails: *patterns,
		IncludeRawData:        *raw,
		IncludeDiagnostics:    *patterns || *raw,
	})

	if *format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else {
		printText(os.Stdout, res)
	}

	if !res.Valid {
		return exitInvalidVIN
	}
	return exitOK
}

// printText renders a result for terminals.
func printText(w io.Writer, res *decode.Result) {
	fmt.Fprintf(w, "VIN:        %s\n", res.VIN)
	fmt.Fprintf(w, "Valid:      %v\n", res.Valid)

	veh := res.Components.Vehicle
	if veh.Make != "" || veh.Model != "" {
		fmt.Fprintln(w, "")
		fmt.Fprintf(w, "Make:       %s\n", veh.Make)
		fmt.Fprintf(w, "Model:      %s\n", veh.Model)
		if veh.Year != 0 {
			fmt.Fprintf(w, "Year:       %d\n", veh.Year)
		}
		if veh.Series != "" {
			fmt.Fprintf(w, "Series:     %s\n", veh.Series)
		}
		if veh.BodyStyle != "" {
			fmt.Fprintf(w, "Body:       %s\n", veh.BodyStyle)
		}
		if veh.DriveType != "" {
			fmt.Fprintf(w, "Drive:      %s\n", veh.DriveType)
		}
		if veh.FuelType != "" {
			fmt.Fprintf(w, "Fuel:       %s\n", veh.FuelType)
		}
		if veh.Electrification != "" {
			fmt.Fprintf(w, "Electrified: %s\n", veh.Electrification)
		}
	}

	wmi := res.Components.WMI
	if wmi.Code != "" {
		fmt.Fprintln(w, "")
		fmt.Fprintf(w, "WMI:        %s (%s)\n", wmi.Code, wmi.Manufacturer)
		fmt.Fprintf(w, "Country:    %s", wmi.Country)
		if wmi.Region != "" {
			fmt.Fprintf(w, " (%s)", wmi.Region)
		}
		fmt.Fprintln(w, "")
	}

	plant := res.Components.Plant
	if plant.City != "" || plant.Country != "" {
		fmt.Fprintf(w, "Plant:      %s %s (code %s)\n", plant.City, plant.Country, plant.Code)
	}

	eng := res.Components.Engine
	if eng.Model != "" {
		fmt.Fprintf(w, "Engine:     %s\n", eng.Model)
	}

	cd := res.Components.CheckDigit
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Check digit: %s", cd.Actual)
	if !cd.IsValid {
		fmt.Fprintf(w, " (expected %s)", cd.Expected)
	}
	fmt.Fprintln(w, "")

	for _, e := range res.Errors {
		fmt.Fprintf(w, "%s [%s/%s]: %s\n", e.Severity, e.Category, e.Code, e.Message)
	}

	if len(res.Patterns) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Pattern matches:")
		for _, pm := range res.Patterns {
			marker := " "
			if pm.Selected {
				marker = "*"
			}
			fmt.Fprintf(w, " %s %-28s %-20s keys=%s spec=%d coherence=%d conf=%.2f (%s)\n",
				marker, pm.Element, pm.Value, pm.Keys, pm.Specificity, pm.SchemaMatches, pm.Confidence, pm.Schema)
		}
	}

	if res.Metadata != nil {
		fmt.Fprintln(w, "")
		fmt.Fprintf(w, "Confidence: %.2f  Schemas: %d  Time: %.2fms\n",
			res.Metadata.Confidence, res.Metadata.SchemaCount, res.Metadata.ProcessingTimeMs)
	}
}

// batchLine is one JSONL input row for batch decoding.
type batchLine struct {
	VIN       string `json:"vin"`
	ModelYear int    `json:"model_year,omitempty"`
}

type batchStats struct {
	Lines   int
	Decoded int
	Valid   int
	Invalid int
	Stored  int
}

func runBatch(args []string) int {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	catalogPath := fs.String("catalog", envOr("CORGI_CATALOG", ""), "Catalog file (.db or .db.gz)")
	overlay := fs.String("overlay", envOr("CORGI_OVERLAY", ""), "Community overlay file(s), comma-separated")
	inPath := fs.String("input", "", "Input JSONL file (default: stdin)")
	outPath := fs.String("output", "", "Output JSON file (default: stdout)")
	pretty := fs.Bool("pretty", false, "Pretty-print JSON output")
	showStats := fs.Bool("stats", false, "Print basic counters to stderr")
	dbPath := fs.String("db", "", "Optional SQLite history database to record decodes")
	_ = fs.Parse(args)

	decoder, err := openDecoder(*catalogPath, *overlay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Catalog error: %v\n", err)
		return exitCatalog
	}
	defer func() { _ = decoder.Close() }()

	var history *storage.DB
	if *dbPath != "" {
		history, err = storage.Open(*dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "History database error: %v\n", err)
			return exitCatalog
		}
		defer func() { _ = history.Close() }()
	}

	var r io.Reader = os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open input: %v\n", err)
			return exitUsage
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	ctx := context.Background()
	out := make([]*decode.Result, 0, 1024)
	st := &batchStats{}

	for scanner.Scan() {
		st.Lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		entry, ok := parseBatchLine(line)
		if !ok {
			continue
		}

		res := decoder.Decode(ctx, entry.VIN, &decode.Options{
			ModelYear:          entry.ModelYear,
			IncludeDiagnostics: true,
		})
		st.Decoded++
		if res.Valid {
			st.Valid++
		} else {
			st.Invalid++
		}
		out = append(out, res)

		if history != nil {
			p, err := storage.BuildInsertParams(res, time.Now())
			if err == nil {
				if _, err := history.Insert(p); err == nil {
					st.Stored++
				} else {
					fmt.Fprintf(os.Stderr, "History insert failed: %v\n", err)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Input read error: %v\n", err)
		return exitUsage
	}

	var wout io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output: %v\n", err)
			return exitUsage
		}
		defer f.Close()
		wout = f
	}

	enc, err := marshalJSON(out, *pretty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON encode error: %v\n", err)
		return exitUsage
	}
	_, _ = wout.Write(enc)
	if wout == os.Stdout {
		_, _ = wout.Write([]byte("\n"))
	}

	if *showStats {
		fmt.Fprintf(os.Stderr,
			"stats: lines=%d decoded=%d valid=%d invalid=%d stored=%d\n",
			st.Lines, st.Decoded, st.Valid, st.Invalid, st.Stored,
		)
	}
	return exitOK
}

// parseBatchLine accepts a bare string VIN or a {"vin": ...} object.
func parseBatchLine(line string) (batchLine, bool) {
	var entry batchLine
	if err := json.Unmarshal([]byte(line), &entry); err == nil && entry.VIN != "" {
		return entry, true
	}
	var s string
	if err := json.Unmarshal([]byte(line), &s); err == nil && s != "" {
		return batchLine{VIN: s}, true
	}
	// Plain, unquoted VIN.
	if !strings.HasPrefix(line, "{") && !strings.HasPrefix(line, "[") {
		return batchLine{VIN: line}, true
	}
	return batchLine{}, false
}

func marshalJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite history database")
	_ = fs.Parse(args)

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "stats requires -db")
		return exitUsage
	}
	history, err := storage.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History database error: %v\n", err)
		return exitCatalog
	}
	defer func() { _ = history.Close() }()

	stats, err := history.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats query failed: %v\n", err)
		return exitCatalog
	}

	fmt.Printf("decodes: %d (invalid: %d)\n", stats.TotalDecodes, stats.InvalidCount)
	if len(stats.ByMake) > 0 {
		fmt.Println("by make:")
		for mk, count := range stats.ByMake {
			fmt.Printf("  %-20s %d\n", mk, count)
		}
	}
	return exitOK
}
