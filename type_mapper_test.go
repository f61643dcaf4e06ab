package eventschema

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tryfixerrors "github.com/tryfix/errors"
)

func TestTypeMapper_TryMap(t *testing.T) {
	m := NewTypeMapper(nil)
	orderType := TypeOf(Order{})

	mapped, err := m.TryMap(`Order`, orderType)
	require.NoError(t, err)
	assert.True(t, mapped)

	mapped, err = m.TryMap(`Order`, orderType)
	require.NoError(t, err)
	assert.False(t, mapped, `an identical binding is not a new mapping`)

	t.Run(`schema name bound to another type`, func(t *testing.T) {
		_, err := m.TryMap(`Order`, TypeOf(Payment{}))
		var tce *TypeConflictError
		require.ErrorAs(t, err, &tce)
		assert.Equal(t, SchemaName(`Order`), tce.SchemaName)
		assert.Equal(t, orderType, tce.Existing)
		assert.Equal(t, TypeOf(Payment{}), tce.Requested)
	})

	t.Run(`type bound to another schema name`, func(t *testing.T) {
		_, err := m.TryMap(`Order.v2`, orderType)
		var tce *TypeConflictError
		require.ErrorAs(t, err, &tce)
		assert.Equal(t, SchemaName(`Order`), tce.SchemaName)
		assert.Equal(t, SchemaName(`Order.v2`), tce.RequestedName)
		assert.Contains(t, tce.Error(), `cannot map it to [Order.v2]`)
	})

	t.Run(`preconditions`, func(t *testing.T) {
		var pe *PreconditionError
		_, err := m.TryMap(``, orderType)
		require.ErrorAs(t, err, &pe)
		_, err = m.TryMap(`Nil`, nil)
		require.ErrorAs(t, err, &pe)
	})
}

func TestTypeMapper_Lookups(t *testing.T) {
	m := NewTypeMapper(nil)
	_, err := m.TryMap(`Order`, TypeOf(Order{}))
	require.NoError(t, err)

	got, err := m.MessageType(`Order`, true)
	require.NoError(t, err)
	assert.Equal(t, TypeOf(Order{}), got)

	got, err = m.MessageType(`Missing`, false)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = m.MessageType(`Missing`, true)
	var tne *TypeNotMappedError
	require.ErrorAs(t, err, &tne)

	name, err := m.SchemaNameOf(TypeOf(Order{}), true)
	require.NoError(t, err)
	assert.Equal(t, SchemaName(`Order`), name)

	name, err = m.SchemaNameOf(TypeOf(Payment{}), false)
	require.NoError(t, err)
	assert.True(t, name.IsEmpty())

	_, err = m.SchemaNameOf(TypeOf(Payment{}), true)
	require.ErrorAs(t, err, &tne)

	assert.Equal(t, map[SchemaName]reflect.Type{`Order`: TypeOf(Order{})}, m.Mappings())
	assert.Equal(t, TypeFor[Order](), TypeOf(Order{}))
}

func TestTypeMapper_GetOrResolveMessageType(t *testing.T) {
	var calls int
	m := NewTypeMapper(TypeResolverFunc(func(name SchemaName, stream string, _ Metadata) (reflect.Type, error) {
		calls++
		if name == `Legacy.Event` && stream == `legacy-1` {
			return TypeOf(LegacyEvent{}), nil
		}
		if name == `Nil.Event` {
			return nil, nil
		}
		return nil, tryfixerrors.New(`unknown`)
	}))
	_, err := m.TryMap(`Order`, TypeOf(Order{}))
	require.NoError(t, err)

	got, err := m.GetOrResolveMessageType(`Order`, `legacy-1`, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeOf(Order{}), got)
	assert.Zero(t, calls, `mapped names never reach the resolver`)

	got, err = m.GetOrResolveMessageType(`Legacy.Event`, `legacy-1`, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeOf(LegacyEvent{}), got)
	assert.False(t, m.IsMapped(got), `resolution alone does not map`)

	var re *ResolutionError
	_, err = m.GetOrResolveMessageType(`Legacy.Event`, `other-1`, nil)
	require.ErrorAs(t, err, &re)
	assert.Error(t, re.Unwrap())

	_, err = m.GetOrResolveMessageType(`Nil.Event`, `other-1`, nil)
	require.ErrorAs(t, err, &re)

	_, err = NewTypeMapper(nil).GetOrResolveMessageType(`Legacy.Event`, ``, nil)
	require.ErrorAs(t, err, &re)
}

func TestTypeRegistry(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.RegisterType(Order{}, `Order.v1`))
	require.NoError(t, r.RegisterType(Order{}, `Order.v1`), `re-registering the same type is allowed`)
	require.Error(t, r.RegisterType(Payment{}, `Order.v1`))
	require.Error(t, r.RegisterType(nil))

	got, err := r.ResolveType(`eventschema.Order`, ``, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeOf(Order{}), got)

	got, err = r.ResolveType(`Order.v1`, ``, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeOf(Order{}), got)

	_, err = r.ResolveType(`Unknown`, ``, nil)
	assert.Error(t, err)

	t.Run(`conflicting aliases register nothing`, func(t *testing.T) {
		require.Error(t, r.RegisterType(Payment{}, `Payment.v1`, `Order.v1`))

		_, err := r.ResolveType(`eventschema.Payment`, ``, nil)
		assert.Error(t, err)
		_, err = r.ResolveType(`Payment.v1`, ``, nil)
		assert.Error(t, err)
	})
}

func TestTypeMapper_MappedForm(t *testing.T) {
	m := NewTypeMapper(nil)
	assert.Equal(t, TypeOf(&Order{}), m.MappedForm(TypeOf(&Order{})), `unmapped types are kept`)
	assert.Nil(t, m.MappedForm(nil))

	_, err := m.TryMap(`Order`, TypeOf(Order{}))
	require.NoError(t, err)
	assert.Equal(t, TypeOf(Order{}), m.MappedForm(TypeOf(&Order{})))
	assert.Equal(t, TypeOf(Order{}), m.MappedForm(TypeOf(Order{})))

	_, err = m.TryMap(`Payment`, TypeOf(&Payment{}))
	require.NoError(t, err)
	assert.Equal(t, TypeOf(&Payment{}), m.MappedForm(TypeOf(Payment{})))
}
