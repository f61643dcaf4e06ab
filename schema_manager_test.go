package eventschema

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tryfix/log"
)

func newTestManager(client RegistryClient, opts ...Option) *SchemaManager {
	return NewSchemaManager(client, NewTypeMapper(nil), opts...)
}

func TestSchemaManager_RegisterSchema(t *testing.T) {
	ctx := context.Background()
	client := newCountingClient(NewLocalRegistry())
	m := newTestManager(client)
	orderType := TypeOf(Order{})

	first, err := m.RegisterSchema(ctx, `Order.v1`, orderType, DataFormatJson)
	require.NoError(t, err)
	assert.Equal(t, 1, first.VersionNumber)
	assert.NotEqual(t, SchemaVersionID{}, first.VersionID)

	second, err := m.RegisterSchema(ctx, `Order.v1`, orderType, DataFormatJson)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), client.creates.Load(), `second registration must be served from the cache`)

	assert.Equal(t, []SchemaVersionDescriptor{first}, m.CompatibleVersions(orderType))
}

func TestSchemaManager_RegisterSchema_ReusesExistingSchema(t *testing.T) {
	ctx := context.Background()
	local := NewLocalRegistry()
	existing, err := local.CreateSchema(ctx, CreateSchemaRequest{
		Name:       `Order`,
		Definition: mustExport(t, Order{}, DataFormatJson),
		DataFormat: DataFormatJson,
	})
	require.NoError(t, err)

	client := newCountingClient(local)
	m := newTestManager(client)

	version, err := m.RegisterSchema(ctx, `Order`, TypeOf(Order{}), DataFormatJson)
	require.NoError(t, err)
	assert.Equal(t, existing, version)
	assert.Zero(t, client.creates.Load())
}

func TestSchemaManager_RegisterSchema_Race(t *testing.T) {
	ctx := context.Background()
	client := newCountingClient(NewLocalRegistry())
	m := newTestManager(client)
	paymentType := TypeOf(Payment{})

	const workers = 16
	results := make([]SchemaVersionDescriptor, workers)
	errs := make([]error, workers)

	start := make(chan struct{})
	wg := new(sync.WaitGroup)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = m.RegisterSchema(ctx, `Payment`, paymentType, DataFormatJson)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}

	assert.Equal(t, int64(1), client.creates.Load()-client.alreadyExists.Load(), `exactly one create must succeed`)
	assert.Equal(t, []SchemaVersionDescriptor{results[0]}, m.CompatibleVersions(paymentType))
}

func TestSchemaManager_RegisterSchema_ContentionExhausted(t *testing.T) {
	client := contendedClient{newCountingClient(NewLocalRegistry())}
	m := newTestManager(client, WithMaxRegistrationAttempts(3))

	_, err := m.RegisterSchema(context.Background(), `Payment`, TypeOf(Payment{}), DataFormatJson)
	require.ErrorIs(t, err, ErrRegistrationContention)
	assert.Equal(t, int64(3), client.creates.Load())
	assert.Nil(t, m.CompatibleVersions(TypeOf(Payment{})))
}

func TestSchemaManager_RegisterSchema_Preconditions(t *testing.T) {
	ctx := context.Background()
	client := newCountingClient(NewLocalRegistry())
	m := newTestManager(client)

	var pe *PreconditionError

	_, err := m.RegisterSchema(ctx, ``, TypeOf(Order{}), DataFormatJson)
	require.ErrorAs(t, err, &pe)

	_, err = m.RegisterSchema(ctx, `Order`, nil, DataFormatJson)
	require.ErrorAs(t, err, &pe)

	_, err = m.RegisterSchema(ctx, `Order`, TypeOf(Order{}), DataFormatUnspecified)
	require.ErrorAs(t, err, &pe)

	assert.Zero(t, client.calls(), `preconditions must fail before any remote call`)
}

func TestSchemaManager_RegisterSchema_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newCountingClient(NewLocalRegistry())
	m := newTestManager(client)

	_, err := m.RegisterSchema(ctx, `Order`, TypeOf(Order{}), DataFormatJson)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, m.CompatibleVersions(TypeOf(Order{})))
	assert.False(t, m.TypeMapper().IsMapped(TypeOf(Order{})))
}

func TestSchemaManager_EnsureCompatibility(t *testing.T) {
	ctx := context.Background()
	local := NewLocalRegistry()
	client := newCountingClient(local)
	m := newTestManager(client)
	orderType := TypeOf(Order{})

	v1, err := m.RegisterSchema(ctx, `Order`, orderType, DataFormatJson)
	require.NoError(t, err)

	t.Run(`known version ids are served from the cache`, func(t *testing.T) {
		checks := client.checks.Load()
		last, err := m.EnsureCompatibilityByVersionID(ctx, v1.VersionID, orderType, DataFormatJson)
		require.NoError(t, err)
		assert.Equal(t, v1, last)
		assert.Equal(t, checks, client.checks.Load())
	})

	v2, err := local.RegisterSchemaVersion(ctx, `Order`, mustExport(t, OrderV2{}, DataFormatJson))
	require.NoError(t, err)
	require.Equal(t, 2, v2.VersionNumber)

	t.Run(`a new version extends the cache without dropping older ones`, func(t *testing.T) {
		last, err := m.EnsureCompatibilityByVersionID(ctx, v2.VersionID, orderType, DataFormatJson)
		require.NoError(t, err)
		assert.Equal(t, v2, last)
		assert.Equal(t, []SchemaVersionDescriptor{v1, v2}, m.CompatibleVersions(orderType))

		checks := client.checks.Load()
		last, err = m.EnsureCompatibilityBySchemaName(ctx, `Order`, orderType, DataFormatJson)
		require.NoError(t, err)
		assert.Equal(t, v2, last)
		assert.Equal(t, checks, client.checks.Load())
	})
}

func TestSchemaManager_EnsureCompatibility_UnknownVersionInsertedBeforeLast(t *testing.T) {
	ctx := context.Background()
	local := NewLocalRegistry()
	m := newTestManager(local)
	orderType := TypeOf(Order{})

	v1, err := local.CreateSchema(ctx, CreateSchemaRequest{
		Name:       `Order`,
		Definition: mustExport(t, Order{}, DataFormatJson),
		DataFormat: DataFormatJson,
	})
	require.NoError(t, err)
	v2, err := local.RegisterSchemaVersion(ctx, `Order`, mustExport(t, OrderV2{}, DataFormatJson))
	require.NoError(t, err)

	last, err := m.EnsureCompatibilityByVersionID(ctx, v1.VersionID, orderType, DataFormatJson)
	require.NoError(t, err)
	assert.Equal(t, v2, last)

	versions := m.CompatibleVersions(orderType)
	require.Len(t, versions, 2)
	assert.Equal(t, v1, versions[0], `presented versions carry their registry number`)
	assert.Equal(t, v2, versions[1])
}

func TestSchemaManager_EnsureCompatibility_ConcurrentExtensions(t *testing.T) {
	ctx := context.Background()
	local := NewLocalRegistry()
	m := newTestManager(local)
	orderType := TypeOf(Order{})

	const versions = 12
	registered := make([]SchemaVersionDescriptor, 0, versions)

	first, err := local.CreateSchema(ctx, CreateSchemaRequest{
		Name:          `Order`,
		Definition:    `{"title":"v1","type":"object"}`,
		DataFormat:    DataFormatJson,
		Compatibility: CompatibilityNone,
	})
	require.NoError(t, err)
	registered = append(registered, first)

	for i := 2; i <= versions; i++ {
		v, err := local.RegisterSchemaVersion(ctx, `Order`, fmt.Sprintf(`{"title":"v%d","type":"object"}`, i))
		require.NoError(t, err)
		registered = append(registered, v)
	}
	latest := registered[len(registered)-1]

	start := make(chan struct{})
	errs := make([]error, versions)
	wg := new(sync.WaitGroup)
	for i, v := range registered {
		wg.Add(1)
		go func(i int, id SchemaVersionID) {
			defer wg.Done()
			<-start
			_, errs[i] = m.EnsureCompatibilityByVersionID(ctx, id, orderType, DataFormatJson)
		}(i, v.VersionID)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	cached := m.CompatibleVersions(orderType)
	assert.ElementsMatch(t, registered, cached, `no confirmed version is lost`)
	assert.Equal(t, latest, cached[len(cached)-1])

	list, ok := m.load(orderType)
	require.True(t, ok)
	for _, v := range registered {
		assert.True(t, list.contains(v.VersionID), v)
	}
}

func TestSchemaManager_EnsureCompatibility_FailuresAreNotCached(t *testing.T) {
	ctx := context.Background()
	local := NewLocalRegistry()
	m := newTestManager(local)

	t.Run(`not found`, func(t *testing.T) {
		_, err := m.EnsureCompatibilityBySchemaName(ctx, `Missing`, TypeOf(Order{}), DataFormatJson)
		require.True(t, IsNotFound(err), err)
		assert.Nil(t, m.CompatibleVersions(TypeOf(Order{})))
	})

	t.Run(`incompatible`, func(t *testing.T) {
		_, err := m.RegisterSchema(ctx, `Order`, TypeOf(Order{}), DataFormatJson)
		require.NoError(t, err)

		_, err = m.EnsureCompatibilityBySchemaName(ctx, `Order`, TypeOf(OrderV3{}), DataFormatJson)
		var ce *CompatibilityError
		require.ErrorAs(t, err, &ce)
		require.NotEmpty(t, ce.Issues)
		assert.Equal(t, `TypeChanged`, ce.Issues[0].Kind)
		assert.Equal(t, `$.amount`, ce.Issues[0].PropertyPath)
		assert.Nil(t, m.CompatibleVersions(TypeOf(OrderV3{})))
	})
}

func TestSchemaManager_DeleteSchema_KeepsCache(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewLocalRegistry())

	version, err := m.RegisterSchema(ctx, `Order`, TypeOf(Order{}), DataFormatJson)
	require.NoError(t, err)

	require.NoError(t, m.DeleteSchema(ctx, `Order`))

	_, err = m.GetSchema(ctx, `Order`)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, []SchemaVersionDescriptor{version}, m.CompatibleVersions(TypeOf(Order{})))
}

func TestSchemaManager_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := newTestManager(NewLocalRegistry(), WithMetricsRegisterer(reg))

	_, err := m.RegisterSchema(ctx, `Order`, TypeOf(Order{}), DataFormatJson)
	require.NoError(t, err)
	_, err = m.RegisterSchema(ctx, `Order`, TypeOf(Order{}), DataFormatJson)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.requests.WithLabelValues(`get_schema_version`, `not_found`)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.requests.WithLabelValues(`create_schema`, `ok`)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.cacheHits.WithLabelValues(`register`)))

	t.Run(`managers sharing a registerer share collectors`, func(t *testing.T) {
		other := newTestManager(NewLocalRegistry(), WithMetricsRegisterer(reg))
		assert.Same(t, m.metrics.requests, other.metrics.requests)
	})
}

func TestSchemaManager_WarmUp(t *testing.T) {
	ctx := context.Background()
	client := newCountingClient(NewLocalRegistry())
	m := newTestManager(client, WithWarmUpConcurrency(2))

	for name, v := range map[SchemaName]interface{}{`Order`: Order{}, `Payment`: Payment{}, `Legacy`: LegacyEvent{}} {
		_, err := m.TypeMapper().TryMap(name, TypeOf(v))
		require.NoError(t, err)
	}

	require.NoError(t, m.WarmUp(ctx, DataFormatJson))
	assert.Equal(t, int64(3), client.creates.Load())
	for _, v := range []interface{}{Order{}, Payment{}, LegacyEvent{}} {
		assert.Len(t, m.CompatibleVersions(TypeOf(v)), 1)
	}
}

func TestSchemaManager_Refresh(t *testing.T) {
	ctx := context.Background()
	local := NewLocalRegistry()
	m := newTestManager(local, WithLogger(log.Constructor.Log(log.WithColors(false))))
	orderType := TypeOf(Order{})

	_, err := m.TypeMapper().TryMap(`Order`, orderType)
	require.NoError(t, err)
	require.NoError(t, m.WarmUp(ctx, DataFormatJson))
	assert.Zero(t, m.Refresh(ctx, DataFormatJson))

	v2, err := local.RegisterSchemaVersion(ctx, `Order`, mustExport(t, OrderV2{}, DataFormatJson))
	require.NoError(t, err)

	assert.Equal(t, 1, m.Refresh(ctx, DataFormatJson))
	versions := m.CompatibleVersions(orderType)
	require.Len(t, versions, 2)
	assert.Equal(t, v2, versions[1])

	m.Print()
}

func TestVersionList_With(t *testing.T) {
	v1 := SchemaVersionDescriptor{VersionID: testVersionID(1), VersionNumber: 1}
	v2 := SchemaVersionDescriptor{VersionID: testVersionID(2), VersionNumber: 2}
	v3 := SchemaVersionDescriptor{VersionID: testVersionID(3), VersionNumber: 3}

	list := newVersionList(nil, v1)
	assert.Same(t, list, list.with(nil, v1), `unchanged lists are reused`)

	next := list.with(&SchemaVersionDescriptor{VersionID: v2.VersionID}, v3)
	assert.Equal(t, []SchemaVersionDescriptor{v1, {VersionID: v2.VersionID}, v3}, next.versions)
	assert.Equal(t, []SchemaVersionDescriptor{v1}, list.versions, `lists are immutable`)
	assert.Equal(t, v3, next.last())
}

func testVersionID(n byte) SchemaVersionID {
	var id SchemaVersionID
	id[15] = n
	return id
}
