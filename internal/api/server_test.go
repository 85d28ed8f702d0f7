package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BashkirovN/MiniStateAffairs/internal/models"
)

type fakeReader struct {
	items   map[string]models.WorkItem
	runs    []models.JobRun
	summary map[string]int
}

func (f *fakeReader) GetItem(_ context.Context, id string) (models.WorkItem, error) {
	item, ok := f.items[id]
	if !ok {
		return models.WorkItem{}, errors.New("no rows in result set")
	}
	return item, nil
}

func (f *fakeReader) RecentRuns(context.Context, int) ([]models.JobRun, error) {
	return f.runs, nil
}

func (f *fakeReader) RunSummary(context.Context, string, string) (map[string]int, error) {
	return f.summary, nil
}

func newTestServer() (*fakeReader, *httptest.Server) {
	reader := &fakeReader{
		items: map[string]models.WorkItem{
			"item-1": {ID: "item-1", Region: "wa", SourceBranch: "house", Slug: "wa-house-ev-1", Status: models.StatusCompleted},
		},
		runs:    []models.JobRun{{ID: "run-1", Region: "wa", SourceBranch: "house", Status: models.RunStatusCompleted, StartedAt: time.Now()}},
		summary: map[string]int{models.StatusCompleted: 4, models.StatusFailed: 1},
	}
	return reader, httptest.NewServer(New(reader).Router())
}

func TestHealthz(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}
}

func TestGetItem(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/items/item-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var item models.WorkItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		t.Fatal(err)
	}
	if item.Slug != "wa-house-ev-1" || item.Status != models.StatusCompleted {
		t.Errorf("unexpected item %+v", item)
	}
}

func TestGetItemNotFound(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/items/ghost")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want 404", resp.StatusCode)
	}
}

func TestRecentRuns(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload struct {
		Runs []models.JobRun `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Runs) != 1 || payload.Runs[0].ID != "run-1" {
		t.Errorf("unexpected runs payload %+v", payload.Runs)
	}
}

func TestRunSummary(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/summary?region=wa&source=house")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var payload struct {
		Region   string         `json:"region"`
		Source   string         `json:"source"`
		Statuses map[string]int `json:"statuses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Statuses[models.StatusCompleted] != 4 {
		t.Errorf("unexpected summary %+v", payload)
	}
}

func TestRunSummaryRequiresParams(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/summary")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}
}
