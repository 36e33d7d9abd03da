package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/config"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain/task"
)

type staticTokens struct{}

func (staticTokens) Token(_ context.Context) (string, error) { return "tok", nil }
func (staticTokens) Refresh(_ context.Context) error         { return nil }

func newTestClient(endpoint string) *Client {
	return New(config.Sheets{
		Endpoint:      endpoint,
		SpreadsheetID: "sheet-1",
		SheetName:     "Data",
	}, staticTokens{})
}

func TestA1Notation(t *testing.T) {
	cases := []struct {
		cell task.Key
		want string
	}{
		{task.Key{Row: 1, Col: 1}, "A1"},
		{task.Key{Row: 3, Col: 2}, "B3"},
		{task.Key{Row: 5, Col: 26}, "Z5"},
		{task.Key{Row: 10, Col: 27}, "AA10"},
		{task.Key{Row: 7, Col: 52}, "AZ7"},
		{task.Key{Row: 2, Col: 53}, "BA2"},
		{task.Key{Row: 1, Col: 702}, "ZZ1"},
		{task.Key{Row: 1, Col: 703}, "AAA1"},
	}
	for _, tc := range cases {
		if got := a1Notation(tc.cell); got != tc.want {
			t.Errorf("a1Notation(%v) = %q, want %q", tc.cell, got, tc.want)
		}
	}
}

func TestFormulaReadsRenderedFormula(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("valueRenderOption"); got != "FORMULA" {
			t.Errorf("expected FORMULA render option, got %q", got)
		}
		if !strings.Contains(r.URL.Path, "'Data'!B3") {
			t.Errorf("expected range for B3, got %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer header, got %q", got)
		}
		_, _ = w.Write([]byte(`{"values":[["=GENAI(A1)"]]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	formula, err := c.Formula(context.Background(), task.Key{Row: 3, Col: 2})
	if err != nil {
		t.Fatal(err)
	}
	if formula != "=GENAI(A1)" {
		t.Errorf("expected formula text, got %q", formula)
	}
}

func TestFormulaEmptyCell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"range":"'Data'!B3"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	formula, err := c.Formula(context.Background(), task.Key{Row: 3, Col: 2})
	if err != nil {
		t.Fatal(err)
	}
	if formula != "" {
		t.Errorf("expected empty formula, got %q", formula)
	}
}

func TestRecomputeClearsThenRestores(t *testing.T) {
	var steps []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			steps = append(steps, "read")
			_, _ = w.Write([]byte(`{"values":[["=GENAI(A1)"]]}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":clear"):
			steps = append(steps, "clear")
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodPut:
			if got := r.URL.Query().Get("valueInputOption"); got != "USER_ENTERED" {
				t.Errorf("expected USER_ENTERED input option, got %q", got)
			}
			body, _ := io.ReadAll(r.Body)
			var payload struct {
				Values [][]string `json:"values"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				t.Errorf("unmarshal restore body: %v", err)
			}
			if len(payload.Values) != 1 || payload.Values[0][0] != "=GENAI(A1)" {
				t.Errorf("expected original formula restored, got %+v", payload.Values)
			}
			steps = append(steps, "restore")
			_, _ = w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Recompute(context.Background(), task.Key{Row: 3, Col: 2}); err != nil {
		t.Fatal(err)
	}

	want := []string{"read", "clear", "restore"}
	if len(steps) != len(want) {
		t.Fatalf("expected steps %v, got %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("expected steps %v, got %v", want, steps)
		}
	}
}

func TestRecomputeLeavesEmptyCellAlone(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Recompute(context.Background(), task.Key{Row: 3, Col: 2}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected only the formula read, got %d calls", calls)
	}
}

func TestFormulaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"spreadsheet not found"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Formula(context.Background(), task.Key{Row: 1, Col: 1})
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status in error, got %v", err)
	}
}
