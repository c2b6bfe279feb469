package main

import (
	"testing"
	"time"

	"github.com/irsalhamdi/course-reconcile/tenant"
)

func TestRequest(t *testing.T) {
	var cfg cliConfig
	cfg.Run.Tenant = "bootcamp"
	cfg.Run.From = "2024-01-01"
	cfg.Run.To = "2024-01-31T12:00:00Z"
	cfg.Run.Resume = "page-3"

	req, err := request(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if req.Tenant != tenant.Bootcamp {
		t.Errorf("expected bootcamp, got %s", req.Tenant)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !req.WindowStart.Equal(want) {
		t.Errorf("expected start %s, got %s", want, req.WindowStart)
	}
	if want := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC); !req.WindowEnd.Equal(want) {
		t.Errorf("expected end %s, got %s", want, req.WindowEnd)
	}
	if req.Resume != "page-3" || req.DryRun {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestRequestRejectsBadInput(t *testing.T) {
	tests := []struct {
		name           string
		tenant, from string
	}{
		{"unknown tenant", "college", "2024-01-01"},
		{"bad time", "academy", "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg cliConfig
			cfg.Run.Tenant = tt.tenant
			cfg.Run.From = tt.from
			cfg.Run.To = "2024-02-01"

			if _, err := request(cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
