package settings

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/domveil/elemid"
)

func TestValidateDomain(t *testing.T) {
	valid := []string{"example.com", "a", "sub.example.co.uk", "my_site.io", "a-b.c", "127.0.0.1"}
	for _, d := range valid {
		if err := ValidateDomain(d); err != nil {
			t.Errorf("ValidateDomain(%q) = %v, want nil", d, err)
		}
	}

	invalid := []string{"", ".example.com", "example.com.", "-leading.com", "trailing-", "bad host", "exa mple", "host/path", strings.Repeat("a", 256)}
	for _, d := range invalid {
		if err := ValidateDomain(d); err == nil {
			t.Errorf("ValidateDomain(%q) accepted", d)
		}
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	want := RuleSet{
		HiddenElements: []elemid.Record{
			{DOMPath: "div#x", TagName: "div", ClassNames: []string{}},
		},
		Enabled: true,
	}
	if err := s.Set(ctx, "example.com", want); err != nil {
		t.Fatalf("set: %v", err)
	}

	got := s.Get(ctx, "example.com")
	if got.Enabled != want.Enabled || len(got.HiddenElements) != 1 {
		t.Fatalf("got %+v", got)
	}
	if !reflect.DeepEqual(got.HiddenElements[0], want.HiddenElements[0]) {
		t.Errorf("element = %+v, want %+v", got.HiddenElements[0], want.HiddenElements[0])
	}
}

func TestGetUnknownDomainReturnsDefault(t *testing.T) {
	s := OpenMemory(t)

	got := s.Get(context.Background(), "never-seen.com")
	if !got.Enabled || len(got.HiddenElements) != 0 {
		t.Errorf("got %+v, want default", got)
	}
}

func TestSetEmptyDomainFailsWithoutWrite(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	err := s.Set(ctx, "", RuleSet{Enabled: true})
	var invalid *ErrInvalidDomain
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ErrInvalidDomain", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("storage altered: %v", all)
	}
}

func TestSetRejectsMalformedRuleSet(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	err := s.Set(ctx, "example.com", RuleSet{
		HiddenElements: []elemid.Record{{DOMPath: "", TagName: "div"}},
		Enabled:        true,
	})
	var invalid *ErrInvalidRuleSet
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ErrInvalidRuleSet", err)
	}
}

func TestGetInvalidStoredRowDegradesToDefault(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	// Corrupt rows written by an older build or by hand.
	for _, elements := range []string{`{"not":"an array"}`, `[{"tagName":"div"}]`, `garbage`} {
		if _, err := s.db.Exec(
			`INSERT OR REPLACE INTO domain_rules (domain, enabled, elements, updated_at) VALUES (?,?,?,0)`,
			"broken.com", true, elements); err != nil {
			t.Fatalf("seed: %v", err)
		}
		got := s.Get(ctx, "broken.com")
		if !got.Enabled || len(got.HiddenElements) != 0 {
			t.Errorf("elements=%s: got %+v, want default", elements, got)
		}
	}
}

func TestListAllFiltersInvalidRows(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	good := RuleSet{
		HiddenElements: []elemid.Record{{DOMPath: "p:nth-child(2)", TagName: "p"}},
		Enabled:        true,
	}
	if err := s.Set(ctx, "good.com", good); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO domain_rules (domain, enabled, elements, updated_at) VALUES (?,?,?,0)`,
		"bad.com", true, `[{"classNames":[]}]`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("listed %d domains, want 1: %v", len(all), all)
	}
	if _, ok := all["good.com"]; !ok {
		t.Error("good.com missing from listing")
	}
}

func TestRemoveAndClearAll(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	rs := RuleSet{
		HiddenElements: []elemid.Record{{DOMPath: "div", TagName: "div"}},
		Enabled:        true,
	}
	for _, d := range []string{"a.com", "b.com", "c.com"} {
		if err := s.Set(ctx, d, rs); err != nil {
			t.Fatalf("set %s: %v", d, err)
		}
	}

	if err := s.Remove(ctx, "b.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	all, _ := s.ListAll(ctx)
	if len(all) != 2 {
		t.Fatalf("after remove: %d domains", len(all))
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	all, _ = s.ListAll(ctx)
	if len(all) != 0 {
		t.Errorf("after clear: %v", all)
	}
}

func TestLastWriteWins(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	first := RuleSet{HiddenElements: []elemid.Record{{DOMPath: "div", TagName: "div"}}, Enabled: true}
	second := RuleSet{Enabled: false}
	if err := s.Set(ctx, "example.com", first); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "example.com", second); err != nil {
		t.Fatalf("set: %v", err)
	}

	got := s.Get(ctx, "example.com")
	if got.Enabled || len(got.HiddenElements) != 0 {
		t.Errorf("got %+v, want second write", got)
	}
}
