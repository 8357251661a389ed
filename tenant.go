package ragpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/youssefsiam38/ragpg/storage"
)

// TenantRegistry resolves tenants and enforces consent. Lookups go
// through a read-through cache with wall-clock TTL expiry so brief store
// outages do not take down retrieval for tenants already seen.
type TenantRegistry struct {
	store storage.Store

	mu      sync.RWMutex
	entries map[string]tenantCacheEntry

	ttl     time.Duration
	onError func(error)

	// now is replaceable in tests.
	now func() time.Time
}

type tenantCacheEntry struct {
	tenant    *storage.Tenant
	expiresAt time.Time
}

// TenantRegistryConfig configures a TenantRegistry.
type TenantRegistryConfig struct {
	// TTL is how long lookups stay cached. Default: 1 hour.
	TTL time.Duration

	// OnError is called when a cache invalidation or refresh fails in a
	// non-fatal way.
	OnError func(err error)
}

// NewTenantRegistry creates a TenantRegistry backed by store.
func NewTenantRegistry(store storage.Store, config *TenantRegistryConfig) *TenantRegistry {
	if config == nil {
		config = &TenantRegistryConfig{}
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTenantCacheTTL
	}
	return &TenantRegistry{
		store:   store,
		entries: make(map[string]tenantCacheEntry),
		ttl:     ttl,
		onError: config.OnError,
		now:     time.Now,
	}
}

// tenantCacheKey normalizes the namespace triple; empty parts are
// wildcards.
func tenantCacheKey(tenantID, businessUnit, department string) string {
	if businessUnit == "" {
		businessUnit = "*"
	}
	if department == "" {
		department = "*"
	}
	return tenantID + ":" + businessUnit + ":" + department
}

// Lookup resolves a tenant, optionally asserting its namespace. A
// business unit or department that does not match the stored values is
// reported as not found, the same as an absent tenant, so namespaces are
// never probed across tenants. The returned tenant is shared with the
// cache and must not be mutated.
func (r *TenantRegistry) Lookup(ctx context.Context, tenantID, businessUnit, department string) (*storage.Tenant, error) {
	const op = "tenant_lookup"

	if tenantID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("%w: tenant id is required", ErrTenantNotFound))
	}

	key := tenantCacheKey(tenantID, businessUnit, department)
	now := r.now()

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.tenant, nil
	}

	tenant, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotFound, op, tenantID, msgTenantNotFound(tenantID),
				fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID))
		}
		return nil, newError(KindBackendFailed, op, tenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}

	if businessUnit != "" && tenant.BusinessUnit != businessUnit {
		return nil, r.namespaceMismatch(op, tenantID)
	}
	if department != "" && (tenant.Department == nil || *tenant.Department != department) {
		return nil, r.namespaceMismatch(op, tenantID)
	}

	r.mu.Lock()
	r.entries[key] = tenantCacheEntry{tenant: tenant, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()

	return tenant, nil
}

func (r *TenantRegistry) namespaceMismatch(op, tenantID string) error {
	return newError(KindNotFound, op, tenantID, msgTenantNotFound(tenantID),
		fmt.Errorf("%w: namespace mismatch for %s", ErrTenantNotFound, tenantID))
}

// ValidateNamespace reports whether the namespace triple resolves to a
// known tenant. Store failures are returned; a plain mismatch is (false,
// nil).
func (r *TenantRegistry) ValidateNamespace(ctx context.Context, tenantID, businessUnit, department string) (bool, error) {
	_, err := r.Lookup(ctx, tenantID, businessUnit, department)
	if err != nil {
		if KindOf(err) == KindNotFound || KindOf(err) == KindInvalidArgument {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ValidateConsent returns nil when the tenant's consent covers op right
// now. A missing tenant is reported as a denial for op, not as a lookup
// failure, so upstream callers need only one refusal path. The returned
// denial carries a Spanish user message naming the tenant and operation.
func (r *TenantRegistry) ValidateConsent(ctx context.Context, tenantID, op string) error {
	const errOp = "validate_consent"

	tenant, err := r.Lookup(ctx, tenantID, "", "")
	if err != nil {
		if KindOf(err) == KindNotFound {
			return newError(KindDenied, errOp, tenantID, msgConsentDenied(tenantID, op),
				fmt.Errorf("%w: tenant %s not found", ErrConsentDenied, tenantID))
		}
		return err
	}

	if !tenant.Active || !tenant.AllowsOperation(op, r.now()) {
		return newError(KindDenied, errOp, tenantID, msgConsentDenied(tenantID, op),
			fmt.Errorf("%w: tenant %s, operation %s", ErrConsentDenied, tenantID, op))
	}

	return nil
}

// Register upserts a tenant through the store and drops every cached
// entry for it. The store bumps the consent version.
func (r *TenantRegistry) Register(ctx context.Context, tenant *storage.Tenant) (*storage.Tenant, error) {
	const op = "tenant_register"

	if tenant == nil || tenant.TenantID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("%w: tenant id is required", ErrInvalidConfig))
	}

	updated, err := r.store.UpsertTenant(ctx, tenant)
	if err != nil {
		return nil, newError(KindBackendFailed, op, tenant.TenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}

	r.mu.Lock()
	prefix := tenant.TenantID + ":"
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	return updated, nil
}

// ListActive returns all active tenants, uncached.
func (r *TenantRegistry) ListActive(ctx context.Context) ([]*storage.Tenant, error) {
	tenants, err := r.store.ListActiveTenants(ctx)
	if err != nil {
		return nil, newError(KindBackendFailed, "tenant_list_active", "", MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}
	return tenants, nil
}

// ClearCache drops all cached lookups.
func (r *TenantRegistry) ClearCache() {
	r.mu.Lock()
	r.entries = make(map[string]tenantCacheEntry)
	r.mu.Unlock()
}
