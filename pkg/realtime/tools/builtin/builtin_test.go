package builtin_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/rtbridge/pkg/realtime/tools"
	"github.com/MrWong99/rtbridge/pkg/realtime/tools/builtin"
)

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	fixed := time.Date(2024, 10, 1, 12, 30, 0, 0, time.UTC)
	if err := builtin.Register(r, func() time.Time { return fixed }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestCurrentTime(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	out, err := r.Call(context.Background(), builtin.CurrentTime, `{}`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var res struct {
		Time    string `json:"time"`
		Weekday string `json:"weekday"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.Time != "2024-10-01T12:30:00Z" || res.Weekday != "Tuesday" {
		t.Errorf("result = %+v", res)
	}

	if _, err := r.Call(context.Background(), builtin.CurrentTime, `{"timezone":"Not/AZone"}`); err == nil {
		t.Error("unknown zone accepted")
	}
}

func TestRollDice(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	tests := []struct {
		expr     string
		count    int
		min, max int
		wantErr  bool
	}{
		{expr: "2d6+3", count: 2, min: 5, max: 15},
		{expr: "d20", count: 1, min: 1, max: 20},
		{expr: "4d8-1", count: 4, min: 3, max: 31},
		{expr: "1d1", count: 1, min: 1, max: 1},
		{expr: "abc", wantErr: true},
		{expr: "0d6", wantErr: true},
		{expr: "2d0", wantErr: true},
		{expr: "2d6+x", wantErr: true},
		{expr: "1000d6", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			args, _ := json.Marshal(map[string]string{"expression": tt.expr})
			out, err := r.Call(context.Background(), builtin.RollDice, string(args))
			if tt.wantErr {
				if err == nil {
					t.Errorf("Call(%q) = %s, want error", tt.expr, out)
				}
				return
			}
			if err != nil {
				t.Fatalf("Call(%q): %v", tt.expr, err)
			}
			var res struct {
				Rolls []int `json:"rolls"`
				Total int   `json:"total"`
			}
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				t.Fatal(err)
			}
			if len(res.Rolls) != tt.count || res.Total < tt.min || res.Total > tt.max {
				t.Errorf("Call(%q) = %+v, want %d rolls totalling %d..%d", tt.expr, res, tt.count, tt.min, tt.max)
			}
		})
	}
}
