package redis

// Key prefixes for primary entity storage.
const (
	prefixEndpoint = "courier:ep:"
	prefixDelivery = "courier:del:"
)

// Key prefixes for sorted set indexes.
const (
	zEndpointTenant = "courier:z:ep:tenant:"  // + tenant ID
	zDeliveryEP     = "courier:z:del:ep:"     // + endpoint ID
	zDeliveryEvt    = "courier:z:del:evt:"    // + event ID
	zDeliveryStatus = "courier:z:del:status:" // + status
	zDeliveryDue    = "courier:z:del:due"
)

// Key prefixes for set indexes.
const (
	sEndpointActive = "courier:s:ep:tenant:" // + tenantID + ":active"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// activeSetKey returns the set key for active endpoints of a tenant.
func activeSetKey(tenantID string) string {
	return sEndpointActive + tenantID + ":active"
}

// statusSetKey returns the sorted set key for deliveries in a status.
func statusSetKey(status string) string {
	return zDeliveryStatus + status
}
