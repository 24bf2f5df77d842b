package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/adx/adx"
)

// defaultDatabase is the database management commands run against when no
// specific database is relevant.
const defaultDatabase = "NetDefaultDB"

// resourceTTL is how long discovered resources and the authorization
// context stay fresh before a refresh.
const resourceTTL = time.Hour

// Resource names as they appear in the ResourceTypeName column.
const (
	resourceReadyQueue      = "SecuredReadyForAggregationQueue"
	resourceFailedQueue     = "FailedIngestionsQueue"
	resourceSuccessfulQueue = "SuccessfulIngestionsQueue"
	resourceTempStorage     = "TempStorage"
	resourceStatusTable     = "IngestionsStatusTable"
)

// QueryClient is the slice of the query client the resource manager
// needs. *adx.Client satisfies it.
type QueryClient interface {
	Mgmt(ctx context.Context, database, command string) (*adx.Table, error)
}

// -----------------------------------------------------------------------------
// Resource URIs
// -----------------------------------------------------------------------------

// ResourceURI is one storage resource handed out by the service: a blob
// container, a queue, or a status table, addressed by a SAS-bearing URL.
type ResourceURI struct {
	// URL is the full resource URL including the access credential.
	URL string

	// AccountURI is the storage account base URL with the credential,
	// without the object path.
	AccountURI string

	// ObjectName is the container, queue, or table name.
	ObjectName string
}

// ParseResourceURI splits a storage resource URL into its account and
// object parts.
func ParseResourceURI(raw string) (ResourceURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ResourceURI{}, fmt.Errorf("invalid resource uri %q: %w", raw, err)
	}
	object := strings.Trim(u.Path, "/")
	if u.Scheme == "" || u.Host == "" || object == "" {
		return ResourceURI{}, fmt.Errorf("invalid resource uri %q", raw)
	}
	account := u.Scheme + "://" + u.Host
	if u.RawQuery != "" {
		account += "?" + u.RawQuery
	}
	return ResourceURI{URL: raw, AccountURI: account, ObjectName: object}, nil
}

// ResourceSet is one complete discovery snapshot. Snapshots are swapped
// wholesale; consumers never see a partially updated set.
type ResourceSet struct {
	ReadyQueues      []ResourceURI
	FailedQueues     []ResourceURI
	SuccessfulQueues []ResourceURI
	Containers       []ResourceURI
	StatusTables     []ResourceURI
}

// applicable reports whether the snapshot can serve queued ingestion.
func (s *ResourceSet) applicable() bool {
	return len(s.ReadyQueues) > 0 &&
		len(s.FailedQueues) > 0 &&
		len(s.SuccessfulQueues) > 0 &&
		len(s.Containers) > 0 &&
		len(s.StatusTables) > 0
}

// -----------------------------------------------------------------------------
// Resource manager
// -----------------------------------------------------------------------------

type cachedResources struct {
	set     *ResourceSet
	expires time.Time
}

type cachedToken struct {
	token   string
	expires time.Time
}

// ResourceManager discovers and caches the ingestion resources and the
// authorization context. Reads are lock-free; refreshes serialize behind a
// mutex with a second freshness check, so a burst of expired readers
// triggers exactly one discovery call.
type ResourceManager struct {
	client QueryClient

	resources   atomic.Pointer[cachedResources]
	resourcesMu sync.Mutex

	token   atomic.Pointer[cachedToken]
	tokenMu sync.Mutex

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewResourceManager(client QueryClient) *ResourceManager {
	return &ResourceManager{client: client, now: time.Now, sleep: sleepCtx}
}

// IngestionResources returns a fresh resource snapshot, refreshing from
// the service when the cached one expired.
func (m *ResourceManager) IngestionResources(ctx context.Context) (*ResourceSet, error) {
	if c := m.resources.Load(); c != nil && m.now().Before(c.expires) {
		return c.set, nil
	}

	m.resourcesMu.Lock()
	defer m.resourcesMu.Unlock()
	if c := m.resources.Load(); c != nil && m.now().Before(c.expires) {
		return c.set, nil
	}

	set, err := m.fetchResources(ctx)
	if err != nil {
		return nil, err
	}
	m.resources.Store(&cachedResources{set: set, expires: m.now().Add(resourceTTL)})
	return set, nil
}

// AuthContext returns the authorization context string queued ingestion
// messages must carry.
func (m *ResourceManager) AuthContext(ctx context.Context) (string, error) {
	if c := m.token.Load(); c != nil && m.now().Before(c.expires) {
		return c.token, nil
	}

	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	if c := m.token.Load(); c != nil && m.now().Before(c.expires) {
		return c.token, nil
	}

	t, err := m.fetchAuthContext(ctx)
	if err != nil {
		return "", err
	}
	m.token.Store(&cachedToken{token: t, expires: m.now().Add(resourceTTL)})
	return t, nil
}

func (m *ResourceManager) fetchResources(ctx context.Context) (*ResourceSet, error) {
	table, err := m.mgmtRetry(ctx, ".get ingestion resources")
	if err != nil {
		return nil, err
	}
	typeIdx := columnIndex(table, "ResourceTypeName")
	rootIdx := columnIndex(table, "StorageRoot")
	if typeIdx < 0 || rootIdx < 0 {
		return nil, errors.New("ingest: ingestion resources table is missing expected columns")
	}

	set := &ResourceSet{}
	for _, row := range table.Rows() {
		name, _ := row[typeIdx].(string)
		root, _ := row[rootIdx].(string)
		uri, err := ParseResourceURI(root)
		if err != nil {
			return nil, err
		}
		switch name {
		case resourceReadyQueue:
			set.ReadyQueues = append(set.ReadyQueues, uri)
		case resourceFailedQueue:
			set.FailedQueues = append(set.FailedQueues, uri)
		case resourceSuccessfulQueue:
			set.SuccessfulQueues = append(set.SuccessfulQueues, uri)
		case resourceTempStorage:
			set.Containers = append(set.Containers, uri)
		case resourceStatusTable:
			set.StatusTables = append(set.StatusTables, uri)
		}
	}
	if !set.applicable() {
		return nil, errors.New("ingest: service returned an incomplete ingestion resource set")
	}
	return set, nil
}

func (m *ResourceManager) fetchAuthContext(ctx context.Context) (string, error) {
	table, err := m.mgmtRetry(ctx, ".get kusto identity token")
	if err != nil {
		return "", err
	}
	idx := columnIndex(table, "AuthorizationContext")
	rows := table.Rows()
	if idx < 0 || len(rows) == 0 {
		return "", errors.New("ingest: identity token table is missing the authorization context")
	}
	token, _ := rows[0][idx].(string)
	return token, nil
}

// mgmtRetryAttempts bounds retries of throttled discovery calls. Only
// throttling-class failures are retried; anything else surfaces at once.
const mgmtRetryAttempts = 4

func (m *ResourceManager) mgmtRetry(ctx context.Context, command string) (*adx.Table, error) {
	var lastErr error
	for attempt := 0; attempt < mgmtRetryAttempts; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, randomExponential(attempt, time.Second, 30*time.Second)); err != nil {
				return nil, err
			}
		}
		table, err := m.client.Mgmt(ctx, defaultDatabase, command)
		if err == nil {
			return table, nil
		}
		var he *adx.HTTPError
		if !errors.As(err, &he) || !he.Throttled() {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func columnIndex(t *adx.Table, name string) int {
	for i, c := range t.Columns() {
		if c.Name == name {
			return i
		}
	}
	return -1
}
