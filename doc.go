// Package courier delivers webhooks: it notifies tenant-registered HTTP
// endpoints of events, signs every request, retries failing receivers with
// backoff, and stops hammering receivers that are down.
//
// Courier is a library. Import it into your application and run the
// delivery engine in-process, or drive it from a scheduler through
// ScanOnce.
//
// Key features:
//   - At-least-once delivery through claimed, leased delivery records
//   - HMAC-SHA256 signatures in the X-Webhook-Signature header
//   - Exponential backoff retries and a dead letter queue with replay
//   - Per-endpoint circuit breakers shared across workers
//   - Endpoint signing secrets sealed with AES-256-GCM at rest
//   - Composable store pattern with multiple backends (Postgres, SQLite, Mongo, Redis, Memory)
//   - Forge-native with standalone fallback
//
// Quick start:
//
//	c, err := courier.New(
//	    courier.WithStore(memory.New()),
//	    courier.WithMasterKey(os.Getenv("COURIER_MASTER_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ep, secret, err := c.Endpoints().Create(ctx, endpoint.Input{
//	    TenantID:   "tenant_123",
//	    URL:        "https://example.com/webhooks",
//	    EventTypes: []string{"invoice.*"},
//	})
//
//	c.OnEvent(ctx, "tenant_123", "invoice.created", json.RawMessage(`{"invoice_id":"inv_01h..."}`))
//	c.Start(ctx)
package courier
