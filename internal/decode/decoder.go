package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cardog-ai/corgi/internal/catalog"
	"github.com/cardog-ai/corgi/internal/vin"
)

// ErrCatalogUnavailable is returned by New when the catalog source cannot
// be opened. It is the only error the decoder surfaces as a Go error; every
// per-decode failure is reported inside the Result.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Config holds decoder-wide settings. The zero value is usable.
type Config struct {
	// DefaultOptions apply to decodes called with nil options.
	DefaultOptions Options
	// OverlayPaths are community catalog files layered over the base.
	OverlayPaths []string
	// PreferCommunity flips the official-first tiebreak between catalog
	// layers for same-element pattern conflicts.
	PreferCommunity bool
	// Logger receives diagnostic output; nil discards it.
	Logger *log.Logger
	// Now supplies the clock for model-year disambiguation; nil means
	// time.Now. Tests pin it.
	Now func() time.Time
}

// Decoder decodes VINs against an immutable catalog. It is safe for
// concurrent use; all per-decode state is local to each call.
type Decoder struct {
	store  catalog.Store
	cfg    Config
	logger *log.Logger
	now    func() time.Time
}

// New opens a decoder over a catalog file. The path may point to a plain or
// .gz-compressed SQLite catalog; overlays from cfg.OverlayPaths are composed
// on top as community layers. Remote URLs are not fetched here: catalog
// download and caching belong to the caller, so a URL source fails with
// ErrCatalogUnavailable.
func New(path string, cfg Config) (*Decoder, error) {
	if strings.Contains(path, "://") {
		return nil, fmt.Errorf("%w: remote catalog %q must be downloaded by the caller", ErrCatalogUnavailable, path)
	}
	base, err := catalog.OpenSQLite(path, catalog.SourceOfficial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if len(cfg.OverlayPaths) == 0 {
		return NewWithStore(base, cfg), nil
	}

	overlays := make([]catalog.Store, 0, len(cfg.OverlayPaths))
	for _, p := range cfg.OverlayPaths {
		o, err := catalog.OpenSQLite(p, catalog.SourceCommunity)
		if err != nil {
			_ = base.Close()
			for _, open := range overlays {
				_ = open.Close()
			}
			return nil, fmt.Errorf("%w: overlay %s: %v", ErrCatalogUnavailable, p, err)
		}
		overlays = append(overlays, o)
	}
	return NewWithStore(catalog.NewLayered(base, overlays...), cfg), nil
}

// NewWithStore wraps an injected catalog adapter. The decoder takes
// ownership: Close closes the store.
func NewWithStore(store catalog.Store, cfg Config) *Decoder {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Decoder{store: store, cfg: cfg, logger: logger, now: now}
}

// Close releases the catalog handle.
func (d *Decoder) Close() error { return d.store.Close() }

// Decode runs the full pipeline for one VIN. It always returns a Result;
// opts of nil uses the decoder's default options.
func (d *Decoder) Decode(ctx context.Context, raw string, opts *Options) *Result {
	start := time.Now()
	o := d.cfg.DefaultOptions
	if opts != nil {
		o = *opts
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	res := &Result{VIN: vin.Normalize(raw), Valid: true, Errors: []DecodeError{}}

	v, ok := d.validate(res)
	if !ok {
		return res
	}
	d.verifyCheckDigit(v, res)

	if ctx.Err() != nil {
		return timeoutResult(res.VIN)
	}

	w, err := d.resolveWMI(ctx, v)
	if err != nil {
		res.addError(errCatalog(err))
		return res
	}
	if w == nil {
		res.addError(errWMINotFound(v.WMI()))
		return res
	}

	my := d.resolveModelYear(v, o)

	if ctx.Err() != nil {
		return timeoutResult(res.VIN)
	}

	matches, err := d.collectSchemaMatches(ctx, w.row.ID, my.Year, v)
	if err != nil {
		res.addError(errCatalog(err))
		return res
	}

	if ctx.Err() != nil {
		return timeoutResult(res.VIN)
	}

	selected := d.selectAttributes(ctx, matches, w, o, res)

	d.assemble(res, v, w, my, selected)

	confidence := overallConfidence(w, my, selected)
	if o.IncludeDiagnostics {
		res.Metadata = &Metadata{
			ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
			Confidence:       confidence,
			SchemaCount:      len(matches),
		}
	}
	d.logger.Printf("decoded %s: valid=%v schemas=%d confidence=%.2f", res.VIN, res.Valid, len(matches), confidence)
	return res
}

// timeoutResult is the entire output of a cancelled decode. Cancellation
// never yields a partial result.
func timeoutResult(normalized string) *Result {
	res := &Result{VIN: normalized, Valid: true, Errors: []DecodeError{}}
	res.addError(errTimeout())
	return res
}

// validate applies the structural checks. It returns the typed VIN and
// whether the pipeline may continue.
func (d *Decoder) validate(res *Result) (vin.VIN, bool) {
	s := res.VIN
	if s == "" {
		res.addError(errEmptyInput())
		return "", false
	}
	if len(s) != vin.Length {
		res.addError(errInvalidLength(len(s)))
		return "", false
	}
	if bad := vin.InvalidPositions(s); len(bad) > 0 {
		res.addError(errInvalidCharacters(bad))
		return "", false
	}
	v := vin.VIN(s)
	if v.YearCode() == '0' {
		res.addError(warnNonUSYear())
	}
	return v, true
}

// verifyCheckDigit attaches the position-9 outcome. A mismatch is a
// warning; decoding continues.
func (d *Decoder) verifyCheckDigit(v vin.VIN, res *Result) {
	expected, actual, ok := vin.VerifyCheckDigit(v)
	res.Components.CheckDigit = CheckDigit{
		IsValid:  ok,
		Expected: string(expected),
		Actual:   string(actual),
	}
	if !ok {
		res.addError(warnInvalidCheckDigit(expected, actual))
	}
}

// resolveModelYear applies the override, the '0' marker, and the 30-year
// cycle disambiguation, in that order of precedence.
func (d *Decoder) resolveModelYear(v vin.VIN, o Options) ModelYear {
	if o.ModelYear != 0 {
		return ModelYear{Year: o.ModelYear, Source: YearOverride, Confidence: 1.0}
	}
	if v.YearCode() == '0' {
		// NON_US_YEAR was already attached during validation.
		return ModelYear{Source: YearUnknown}
	}
	year, ok := vin.ResolveModelYear(v.YearCode(), v.Position(7), d.now())
	if !ok {
		return ModelYear{Source: YearUnknown}
	}
	return ModelYear{Year: year, Source: YearDecoded, Confidence: 0.9}
}
