package endpoint_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/vault"
)

func ctx() context.Context { return context.Background() }

type recordingVault struct {
	*vault.Vault
	cleared []string
}

func (r *recordingVault) ClearSecretCache(ids ...string) {
	r.cleared = append(r.cleared, ids...)
	r.Vault.ClearSecretCache(ids...)
}

func newService(t *testing.T) (*endpoint.Service, *recordingVault) {
	t.Helper()
	v, err := vault.New(vault.Config{MasterKey: "endpoint-test-master-key-0123456789abcdef"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rv := &recordingVault{Vault: v}
	return endpoint.NewService(memory.New(), rv, endpoint.NewGuard(false, testResolver), nil), rv
}

func validInput(tenant string) endpoint.Input {
	return endpoint.Input{
		TenantID:   tenant,
		URL:        "https://example.com/webhook",
		EventTypes: []string{"invoice.*"},
	}
}

func TestEndpointServiceCreate(t *testing.T) {
	svc, v := newService(t)

	ep, secret, err := svc.Create(ctx(), validInput("tenant-1"))
	if err != nil {
		t.Fatal(err)
	}

	if ep.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}
	if !strings.HasPrefix(secret, "whsec_") {
		t.Fatalf("expected auto-generated secret, got %q", secret)
	}
	if ep.SecretCiphertext == "" || strings.Contains(ep.SecretCiphertext, secret) {
		t.Fatal("secret must be stored encrypted")
	}
	got, err := v.DecryptSecret(ep.SecretCiphertext)
	if err != nil || got != secret {
		t.Fatalf("stored ciphertext does not open to the returned secret: %v", err)
	}
	if !ep.Active() {
		t.Fatal("expected active by default")
	}
}

func TestEndpointServiceCreateKeepsProvidedSecret(t *testing.T) {
	svc, _ := newService(t)
	in := validInput("t1")
	in.Secret = "whsec_provided"

	_, secret, err := svc.Create(ctx(), in)
	if err != nil {
		t.Fatal(err)
	}
	if secret != "whsec_provided" {
		t.Fatalf("got %q", secret)
	}
}

func TestEndpointServiceCreateValidation(t *testing.T) {
	svc, _ := newService(t)

	cases := map[string]func(*endpoint.Input){
		"missing url":        func(in *endpoint.Input) { in.URL = "" },
		"missing tenant":     func(in *endpoint.Input) { in.TenantID = "" },
		"no event types":     func(in *endpoint.Input) { in.EventTypes = nil },
		"bad pattern":        func(in *endpoint.Input) { in.EventTypes = []string{"inv*"} },
		"private address":    func(in *endpoint.Input) { in.URL = "https://internal.corp/hook" },
		"unresolvable":       func(in *endpoint.Input) { in.URL = "https://nowhere.example/hook" },
		"reserved header":    func(in *endpoint.Input) { in.Headers = map[string]string{"X-Webhook-Signature": "x"} },
		"negative ratelimit": func(in *endpoint.Input) { in.RateLimit = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput("t1")
			mutate(&in)
			_, _, err := svc.Create(ctx(), in)
			var ve *endpoint.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestEndpointServiceGetUpdateDelete(t *testing.T) {
	svc, v := newService(t)

	ep, _, _ := svc.Create(ctx(), validInput("t1"))

	got, err := svc.Get(ctx(), ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://example.com/webhook" {
		t.Fatalf("got URL %q", got.URL)
	}

	desc := "Updated description"
	updated, err := svc.Update(ctx(), ep.ID, endpoint.Patch{Description: &desc})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Description != desc {
		t.Fatalf("expected updated description, got %q", updated.Description)
	}
	if len(updated.EventTypes) != 1 {
		t.Fatal("unset patch fields must be left alone")
	}

	bad := "http://127.0.0.1/hook"
	if _, err := svc.Update(ctx(), ep.ID, endpoint.Patch{URL: &bad}); err == nil {
		t.Fatal("update to a private URL must fail")
	}

	if err := svc.Delete(ctx(), ep.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx(), ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected deleted, got %v", err)
	}
	if len(v.cleared) < 2 {
		t.Fatalf("expected cache invalidation on update and delete, got %v", v.cleared)
	}
}

func TestEndpointServiceList(t *testing.T) {
	svc, _ := newService(t)

	for range 3 {
		_, _, _ = svc.Create(ctx(), validInput("t1"))
	}
	_, _, _ = svc.Create(ctx(), validInput("t2"))

	list, err := svc.List(ctx(), "t1", endpoint.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3, got %d", len(list))
	}
}

func TestEndpointServiceDisableEnable(t *testing.T) {
	svc, v := newService(t)

	ep, _, _ := svc.Create(ctx(), validInput("t1"))

	if err := svc.Disable(ctx(), ep.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(ctx(), ep.ID)
	if got.Active() {
		t.Fatal("expected disabled")
	}
	if len(v.cleared) == 0 || v.cleared[len(v.cleared)-1] != ep.ID.String() {
		t.Fatal("disabling should clear the cached secret")
	}

	list, _ := svc.List(ctx(), "t1", endpoint.ListOpts{Status: endpoint.StatusDisabled})
	if len(list) != 1 {
		t.Fatalf("expected 1 disabled endpoint, got %d", len(list))
	}

	if err := svc.Enable(ctx(), ep.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.Get(ctx(), ep.ID)
	if !got.Active() {
		t.Fatal("expected active")
	}
}

func TestEndpointServiceRotateSecret(t *testing.T) {
	svc, v := newService(t)

	ep, oldSecret, _ := svc.Create(ctx(), validInput("t1"))

	newSecret, err := svc.RotateSecret(ctx(), ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if newSecret == oldSecret {
		t.Fatal("expected different secret after rotation")
	}
	if !strings.HasPrefix(newSecret, "whsec_") {
		t.Fatalf("expected whsec_ prefix, got %q", newSecret)
	}

	got, _ := svc.Get(ctx(), ep.ID)
	plain, err := v.DecryptSecret(got.SecretCiphertext)
	if err != nil || plain != newSecret {
		t.Fatal("secret not persisted after rotation")
	}
}

func TestEndpointServiceRotateSecretNotFound(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.RotateSecret(ctx(), id.NewEndpointID())
	if !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribes(t *testing.T) {
	ep := &endpoint.Endpoint{EventTypes: []string{"invoice.**", "user.created"}}
	if !ep.Subscribes("invoice.payment.failed") || !ep.Subscribes("user.created") {
		t.Fatal("expected subscription")
	}
	if ep.Subscribes("user.deleted") {
		t.Fatal("unexpected subscription")
	}
}
