package eventschema

import (
	"context"
	"sync/atomic"
)

type Order struct {
	ID     string   `json:"id"`
	Amount float64  `json:"amount"`
	Lines  []string `json:"lines"`
}

// OrderV2 adds an optional field to Order
type OrderV2 struct {
	ID     string   `json:"id"`
	Amount float64  `json:"amount"`
	Lines  []string `json:"lines"`
	Note   *string  `json:"note,omitempty"`
}

// OrderV3 changes the type of amount
type OrderV3 struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

type Payment struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
}

type LegacyEvent struct {
	Name string `json:"name"`
}

type AvroOrder struct {
	ID     string   `avro:"id"`
	Amount float64  `avro:"amount"`
	Count  int64    `avro:"count"`
	Lines  []string `avro:"lines"`
}

// countingClient counts the calls reaching the wrapped RegistryClient
type countingClient struct {
	RegistryClient

	creates       atomic.Int64
	alreadyExists atomic.Int64
	gets          atomic.Int64
	checks        atomic.Int64
}

func newCountingClient(client RegistryClient) *countingClient {
	return &countingClient{RegistryClient: client}
}

func (c *countingClient) CreateSchema(ctx context.Context, req CreateSchemaRequest) (SchemaVersionDescriptor, error) {
	c.creates.Add(1)
	d, err := c.RegistryClient.CreateSchema(ctx, req)
	if IsAlreadyExists(err) {
		c.alreadyExists.Add(1)
	}

	return d, err
}

func (c *countingClient) GetSchemaVersion(ctx context.Context, name SchemaName, versionNumber *int) (SchemaVersion, error) {
	c.gets.Add(1)
	return c.RegistryClient.GetSchemaVersion(ctx, name, versionNumber)
}

func (c *countingClient) CheckSchemaCompatibility(ctx context.Context, identifier SchemaIdentifier, definition string, format SchemaDataFormat) (SchemaVersionDescriptor, error) {
	c.checks.Add(1)
	return c.RegistryClient.CheckSchemaCompatibility(ctx, identifier, definition, format)
}

func (c *countingClient) calls() int64 {
	return c.creates.Load() + c.gets.Load() + c.checks.Load()
}

// contendedClient never finds a schema and always loses the create race
type contendedClient struct {
	*countingClient
}

func (c contendedClient) GetSchemaVersion(_ context.Context, name SchemaName, _ *int) (SchemaVersion, error) {
	c.gets.Add(1)
	return SchemaVersion{}, &NotFoundError{Identifier: string(name)}
}

func (c contendedClient) CreateSchema(_ context.Context, _ CreateSchemaRequest) (SchemaVersionDescriptor, error) {
	c.creates.Add(1)
	c.alreadyExists.Add(1)
	return SchemaVersionDescriptor{}, ErrAlreadyExists
}

func mustExport(t interface{ Fatal(...interface{}) }, v interface{}, format SchemaDataFormat) string {
	def, err := NewReflectExporter().Export(TypeOf(v), format)
	if err != nil {
		t.Fatal(err)
	}

	return def
}
