package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cardog-ai/corgi/internal/catalog"
	"github.com/cardog-ai/corgi/internal/decode"
)

func newTestServer(t *testing.T, cfg Config) *DecodeServer {
	t.Helper()
	b := catalog.NewBuilder(catalog.SourceOfficial)
	b.Element(catalog.ElementModel, "Model", 95)
	b.Element(catalog.ElementBodyClass, "BodyStyle", 80)

	ford := b.WMI("1FT", "FORD MOTOR COMPANY", "Ford", "United States", "Truck")
	schema := b.Schema("Ford F-150 2021+", "1FT")
	b.Link(ford, schema, 2021, 0)
	b.Pattern(schema, "FW****", catalog.ElementModel, "F-150")
	b.Pattern(schema, "FW****", catalog.ElementBodyClass, "Pickup")
	b.MakeModel("Ford", "F-150")

	store, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	decoder := decode.NewWithStore(store, decode.Config{
		Now: func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(func() { _ = decoder.Close() })
	return NewDecodeServer(decoder, nil, cfg)
}

func TestHandleDecode(t *testing.T) {
	s := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/decode/1FTFW5L86RFB45612?patterns=true")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var res decode.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Components.Vehicle.Model != "F-150" || res.Components.Vehicle.Year != 2024 {
		t.Errorf("result = %+v", res.Components.Vehicle)
	}
	if len(res.Patterns) == 0 {
		t.Error("patterns requested but missing")
	}
}

func TestHandleDecodeInvalidVINStill200(t *testing.T) {
	s := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/decode/NOTAVIN")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error envelope", resp.StatusCode)
	}
	var res decode.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Valid || len(res.Errors) == 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestHandleBatchDecode(t *testing.T) {
	s := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body := `{"vins": ["1FTFW5L86RFB45612", "short"]}`
	resp, err := http.Post(srv.URL+"/decode/batch", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var br BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		t.Fatal(err)
	}
	if len(br.Results) != 2 {
		t.Fatalf("got %d results", len(br.Results))
	}
	if !br.Results[0].Valid || br.Results[1].Valid {
		t.Errorf("validity = %v, %v", br.Results[0].Valid, br.Results[1].Valid)
	}

	// An empty batch is rejected.
	resp, err = http.Post(srv.URL+"/decode/batch", "application/json", strings.NewReader(`{"vins": []}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty batch status = %d", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, Config{AuthEnabled: true, APIKeys: []string{"secret"}})

	r := s.Router()
	handler := s.authMiddleware(r)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	// No key.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key status = %d", resp.StatusCode)
	}

	// Wrong key.
	resp, err = http.Get(srv.URL + "/health?api_key=nope")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("bad key status = %d", resp.StatusCode)
	}

	// Valid key via header.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("header key status = %d", resp.StatusCode)
	}

	// Valid key via bearer token.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer key status = %d", resp.StatusCode)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	s := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/history/1FTFW5L86RFB45612")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a history store", resp.StatusCode)
	}
}
