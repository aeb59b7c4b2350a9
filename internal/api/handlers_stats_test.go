package api_test

import (
	"net/http"
	"testing"
)

func TestMostPopularRejectsBadStartDate(t *testing.T) {
	f := newFixture()
	rec, resp := f.do(t, http.MethodGet,
		"/api/v1/statistics/most-popular?serverId="+f.server.ID.String()+"&start=March", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad start date, got %d", rec.Code)
	}
	if resp.Success || resp.Error == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestMostPopularRejectsInvertedRange(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodGet,
		"/api/v1/statistics/most-popular?serverId="+f.server.ID.String()+
			"&start=2024-05-10&end=2024-05-01", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", rec.Code)
	}
}
