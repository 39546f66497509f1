package mailer

import (
	"encoding/json"
	"testing"
)

func TestWhereClause_Empty(t *testing.T) {
	frag, args, err := RecipientFilter{Version: 1}.WhereClause(5)
	if err != nil {
		t.Fatal(err)
	}
	if frag != "" || len(args) != 0 {
		t.Fatalf("empty filter compiled to %q %v", frag, args)
	}
}

func TestWhereClause_Build(t *testing.T) {
	f := RecipientFilter{
		Version: 1,
		Clauses: []FilterClause{
			{Field: "country", Op: "eq", Value: "DE"},
			{Field: "signup_at", Op: "gte", Value: "2026-01-01"},
		},
	}

	frag, args, err := f.WhereClause(3)
	if err != nil {
		t.Fatal(err)
	}
	want := "r.country = $3 AND r.signup_at >= $4"
	if frag != want {
		t.Fatalf("frag=%q", frag)
	}
	if len(args) != 2 || args[0] != "DE" || args[1] != "2026-01-01" {
		t.Fatalf("args=%v", args)
	}
}

func TestWhereClause_In(t *testing.T) {
	f := RecipientFilter{
		Version: 1,
		Clauses: []FilterClause{
			{Field: "lang", Op: "in", Value: []any{"en", "de", "fr"}},
		},
	}

	frag, args, err := f.WhereClause(1)
	if err != nil {
		t.Fatal(err)
	}
	if frag != "r.lang IN ($1,$2,$3)" {
		t.Fatalf("frag=%q", frag)
	}
	if len(args) != 3 {
		t.Fatalf("args=%v", args)
	}
}

func TestWhereClause_Rejects(t *testing.T) {
	cases := []struct {
		name string
		f    RecipientFilter
	}{
		{"unknown field", RecipientFilter{Clauses: []FilterClause{{Field: "password", Op: "eq", Value: "x"}}}},
		{"unknown op", RecipientFilter{Clauses: []FilterClause{{Field: "email", Op: "like", Value: "%x%"}}}},
		{"empty in list", RecipientFilter{Clauses: []FilterClause{{Field: "lang", Op: "in", Value: []any{}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := tc.f.WhereClause(1); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRecipientFilter_JSONRoundTrip(t *testing.T) {
	raw := []byte(`{"version":1,"clauses":[{"field":"confirmed","op":"eq","value":true}]}`)

	var f RecipientFilter
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatal(err)
	}
	frag, args, err := f.WhereClause(1)
	if err != nil {
		t.Fatal(err)
	}
	if frag != "r.confirmed = $1" {
		t.Fatalf("frag=%q", frag)
	}
	if v, ok := args[0].(bool); !ok || !v {
		t.Fatalf("args=%v", args)
	}
}
