// Package extension mounts Courier inside a host application.
//
// The extension:
//   - Builds the delivery store from the configured driver (memory, postgres,
//     sqlite, mongo or redis) and runs its migrations
//   - Shares breaker and rate limit state through the grove KV store when one
//     is supplied
//   - Mounts the admin API under a configurable base path, either on a
//     net/http mux or on a Forge router with OpenAPI metadata
//   - Starts the delivery engine with the application and stops it gracefully
//   - Reports health via store.Ping
//
// Usage:
//
//	ext, err := extension.New(
//	    extension.WithGroveDatabase(db),
//	    extension.WithDriver(extension.DriverPostgres),
//	    extension.WithBasePath("/webhooks"),
//	)
//	if err != nil {
//	    return err
//	}
//	ext.RegisterRoutes(app.Router())
//	if err := ext.Start(ctx); err != nil {
//	    return err
//	}
//	defer ext.Stop(ctx)
package extension
