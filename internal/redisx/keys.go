package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"order_id","user_id","status"}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"

	// Single provisioning run per order: lock:provision:{order_id} -> owner token
	KeyProvisionLock = "lock:provision:%s"

	// Vendor package lookups: catalog:pkg:{package_code|slug} -> JSON package
	KeyCatalogPackage = "catalog:pkg:%s"
)

var (
	TTLStatusCache   = 5 * time.Minute
	TTLDedup         = 48 * time.Hour
	TTLProvisionLock = 45 * time.Second
)
