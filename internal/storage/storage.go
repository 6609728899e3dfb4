// Package storage persists decode results for the batch CLI, the feed
// consumer and the REST API. Three backends share one row shape: SQLite for
// local history, PostgreSQL for fleet history, ClickHouse for analytics.
package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cardog-ai/corgi/internal/decode"
)

// Record is one stored decode outcome.
type Record struct {
	ID         int64
	VIN        string
	DecodedAt  time.Time
	Valid      bool
	Make       string
	Model      string
	ModelYear  int
	BodyClass  string
	Country    string
	Confidence float64
	ErrorCodes string
	ResultJSON string
}

// InsertParams carries a flattened decode result into a store.
type InsertParams struct {
	VIN        string
	DecodedAt  time.Time
	Valid      bool
	Make       string
	Model      string
	ModelYear  int
	BodyClass  string
	Country    string
	Confidence float64
	ErrorCodes []string
	Result     *decode.Result
}

// BuildInsertParams flattens a decode result into storable columns.
func BuildInsertParams(res *decode.Result, at time.Time) (*InsertParams, error) {
	if res == nil {
		return nil, fmt.Errorf("nil result")
	}
	codes := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		codes = append(codes, string(e.Code))
	}
	confidence := 0.0
	if res.Metadata != nil {
		confidence = res.Metadata.Confidence
	}
	return &InsertParams{
		VIN:        res.VIN,
		DecodedAt:  at.UTC(),
		Valid:      res.Valid,
		Make:       res.Components.Vehicle.Make,
		Model:      res.Components.Vehicle.Model,
		ModelYear:  res.Components.Vehicle.Year,
		BodyClass:  res.Components.Vehicle.BodyStyle,
		Country:    res.Components.WMI.Country,
		Confidence: confidence,
		ErrorCodes: codes,
		Result:     res,
	}, nil
}

// marshalResult renders the full result for the JSON column.
func (p *InsertParams) marshalResult() (string, error) {
	b, err := json.Marshal(p.Result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(b), nil
}

func (p *InsertParams) errorCodesCSV() string {
	return strings.Join(p.ErrorCodes, ",")
}
