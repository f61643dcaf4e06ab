package eventschema

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestFXModule(t *testing.T) {
	var (
		reg     *Registry
		manager *SchemaManager
		client  RegistryClient
	)

	metrics := prometheus.NewRegistry()

	app := fxtest.New(t,
		FXModule,
		fx.Supply(Config{
			Backend:      `local`,
			WarmUpFormat: DataFormatJson,
			Types:        map[SchemaName]interface{}{`Order`: Order{}},
		}),
		fx.Provide(func() prometheus.Registerer { return metrics }),
		fx.Populate(&reg, &manager, &client),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.IsType(t, &LocalRegistry{}, client)
	assert.Same(t, reg.Manager(), manager)

	versions := manager.CompatibleVersions(TypeOf(Order{}))
	require.Len(t, versions, 1, `mapped types are registered on start`)

	latest, err := client.GetSchemaVersion(context.Background(), `Order`, nil)
	require.NoError(t, err)
	assert.Equal(t, latest.Descriptor(), versions[0])

	assert.Equal(t, 1.0, testutil.ToFloat64(manager.metrics.requests.WithLabelValues(`create_schema`, `ok`)))

	byt, err := reg.Serialize(context.Background(), DataFormatJson, Order{ID: `o-1`}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, byt)
}

func TestFXModule_Policy(t *testing.T) {
	var reg *Registry

	app := fxtest.New(t,
		FXModule,
		fx.Supply(Config{Policy: &NoValidationPolicy}),
		fx.Populate(&reg),
	)
	app.RequireStart()
	defer app.RequireStop()

	var tne *TypeNotMappedError
	_, err := reg.Serialize(context.Background(), DataFormatJson, Order{}, nil)
	require.ErrorAs(t, err, &tne, `unmapped types are rejected without auto registration`)
}

func TestNewRegistryClientWithDI(t *testing.T) {
	client, err := NewRegistryClientWithDI(RegistryClientParams{Config: Config{Backend: ` Memory `}})
	require.NoError(t, err)
	assert.IsType(t, &LocalRegistry{}, client)

	client, err = NewRegistryClientWithDI(RegistryClientParams{Config: Config{
		Backend:   `confluent`,
		Confluent: ConfluentConfig{URL: `http://localhost:8081`},
	}})
	require.NoError(t, err)
	assert.IsType(t, &ConfluentRegistry{}, client)

	var pe *PreconditionError
	_, err = NewRegistryClientWithDI(RegistryClientParams{Config: Config{Backend: `etcd`}})
	require.ErrorAs(t, err, &pe)
}
