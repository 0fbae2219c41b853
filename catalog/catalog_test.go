package catalog_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/courier/catalog"
)

func TestCatalogRegisterAndGet(t *testing.T) {
	c := catalog.New(nil)

	et, err := c.Register(catalog.WebhookDefinition{
		Name:        "invoice.created",
		Description: "Invoice created",
		Group:       "invoice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if et.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}

	got, err := c.Get("invoice.created")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Name != "invoice.created" {
		t.Fatalf("got %q", got.Definition.Name)
	}
}

func TestCatalogGetNotFound(t *testing.T) {
	c := catalog.New(nil)

	_, err := c.Get("does.not.exist")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogRegisterRejectsBadInput(t *testing.T) {
	c := catalog.New(nil)

	if _, err := c.Register(catalog.WebhookDefinition{Name: "invoice.*"}); err == nil {
		t.Fatal("expected error for wildcard name")
	}
	if _, err := c.Register(catalog.WebhookDefinition{
		Name:   "invoice.created",
		Schema: json.RawMessage(`{"type": 12}`),
	}); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestCatalogUpsertKeepsID(t *testing.T) {
	c := catalog.New(nil)

	first, err := c.Register(catalog.WebhookDefinition{Name: "invoice.created", Description: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Deprecate("invoice.created")

	second, err := c.Register(catalog.WebhookDefinition{Name: "invoice.created", Description: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatal("re-registering should keep the ID")
	}

	got, _ := c.Get("invoice.created")
	if got.Definition.Description != "v2" || got.IsDeprecated {
		t.Fatalf("unexpected type %+v", got)
	}
}

func TestCatalogDeprecate(t *testing.T) {
	c := catalog.New(nil)
	_, _ = c.Register(catalog.WebhookDefinition{Name: "x.event"})

	if err := c.Deprecate("x.event"); err != nil {
		t.Fatal(err)
	}
	if err := c.Deprecate("missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if n := len(c.List(catalog.ListOpts{})); n != 0 {
		t.Fatalf("deprecated types should be hidden, got %d", n)
	}
	if n := len(c.List(catalog.ListOpts{IncludeDeprecated: true})); n != 1 {
		t.Fatalf("expected 1 with IncludeDeprecated, got %d", n)
	}
}

func TestCatalogListFiltersAndPaginates(t *testing.T) {
	c := catalog.New(nil)
	for _, name := range []string{"user.created", "invoice.paid", "invoice.created"} {
		group := "invoice"
		if name == "user.created" {
			group = "user"
		}
		_, _ = c.Register(catalog.WebhookDefinition{Name: name, Group: group})
	}

	all := c.List(catalog.ListOpts{})
	if len(all) != 3 || all[0].Definition.Name != "invoice.created" {
		t.Fatalf("expected sorted list, got %d items", len(all))
	}
	if n := len(c.List(catalog.ListOpts{Group: "invoice"})); n != 2 {
		t.Fatalf("expected 2 in group, got %d", n)
	}
	page := c.List(catalog.ListOpts{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].Definition.Name != "invoice.paid" {
		t.Fatal("unexpected page")
	}
}

func TestCatalogMatch(t *testing.T) {
	c := catalog.New(nil)

	_, _ = c.Register(catalog.WebhookDefinition{Name: "invoice.created"})
	_, _ = c.Register(catalog.WebhookDefinition{Name: "invoice.paid"})
	_, _ = c.Register(catalog.WebhookDefinition{Name: "user.created"})

	if n := len(c.Match("invoice.*")); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

func TestCatalogValidatePayload(t *testing.T) {
	c := catalog.New(nil)
	_, err := c.Register(catalog.WebhookDefinition{
		Name:   "invoice.paid",
		Schema: json.RawMessage(`{"type":"object","required":["amount"]}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.ValidatePayload("invoice.paid", []byte(`{"amount":1}`), false); err != nil {
		t.Fatalf("valid payload: %v", err)
	}

	var se *catalog.SchemaError
	if err := c.ValidatePayload("invoice.paid", []byte(`{}`), false); !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}

	if err := c.ValidatePayload("unknown.type", []byte(`{}`), false); err != nil {
		t.Fatalf("lenient mode should accept unknown types: %v", err)
	}
	if err := c.ValidatePayload("unknown.type", []byte(`{}`), true); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("strict mode should reject unknown types, got %v", err)
	}

	_ = c.Deprecate("invoice.paid")
	if err := c.ValidatePayload("invoice.paid", []byte(`{"amount":1}`), true); !errors.Is(err, catalog.ErrDeprecated) {
		t.Fatalf("expected ErrDeprecated, got %v", err)
	}
}

func TestCatalogRegisterWithMetadata(t *testing.T) {
	c := catalog.New(nil)

	et, err := c.Register(catalog.WebhookDefinition{Name: "scoped.event"},
		catalog.WithMetadata(map[string]string{"key": "value"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if et.Metadata["key"] != "value" {
		t.Fatal("expected metadata")
	}
}
