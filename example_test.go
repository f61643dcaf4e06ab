package eventschema

import (
	"context"
	"fmt"

	"github.com/tryfix/log"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func Example_json() {
	// In-memory registry, use NewConfluentRegistry to connect to a real one
	registry, err := NewRegistry(NewLocalRegistry())
	if err != nil {
		log.Fatal(err)
	}

	type OrderPlaced struct {
		OrderID string  `json:"order_id"`
		Amount  float64 `json:"amount"`
	}

	if err := registry.Map(`orders.OrderPlaced`, OrderPlaced{}); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	sc := &SerializationContext{Stream: `order-1234`}
	payload, err := registry.Serialize(ctx, DataFormatJson, OrderPlaced{OrderID: `1234`, Amount: 99.5}, sc)
	if err != nil {
		log.Fatal(err)
	}

	name, _ := sc.Metadata.SchemaName()
	format, _ := sc.Metadata.DataFormat()
	fmt.Println(string(payload))
	fmt.Println(name, format)

	record := registry.NewRecord(sc.Stream, payload, sc.Metadata)
	if err := record.Decode(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%+v\n", record.Value)
	fmt.Println(registry.Manager().CompatibleVersions(TypeOf(OrderPlaced{}))[0].VersionNumber)

	// Output:
	// {"order_id":"1234","amount":99.5}
	// orders.OrderPlaced json
	// {OrderID:1234 Amount:99.5}
	// 1
}

func Example_avro() {
	registry, err := NewRegistry(NewLocalRegistry())
	if err != nil {
		log.Fatal(err)
	}

	type SampleRecord struct {
		Field1 int64   `avro:"field1"`
		Field2 float64 `avro:"field2"`
		Field3 string  `avro:"field3"`
	}

	ctx := context.Background()
	sc := &SerializationContext{Stream: `sample-1`}
	payload, err := registry.Serialize(ctx, DataFormatAvro, SampleRecord{
		Field1: 100,
		Field2: 10.11,
		Field3: `text`,
	}, sc)
	if err != nil {
		log.Fatal(err)
	}

	name, _ := sc.Metadata.SchemaName()
	fmt.Println(name)

	v, err := registry.Deserialize(ctx, payload, sc)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%+v\n", v)

	// Output:
	// SampleRecord
	// {Field1:100 Field2:10.11 Field3:text}
}

func Example_protobuf() {
	registry, err := NewRegistry(NewLocalRegistry())
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	sc := &SerializationContext{Stream: `greeting-1`}
	payload, err := registry.Serialize(ctx, DataFormatProtobuf, wrapperspb.String(`hello`), sc)
	if err != nil {
		log.Fatal(err)
	}

	name, _ := sc.Metadata.SchemaName()
	format, _ := sc.Metadata.DataFormat()
	fmt.Println(name, format)

	v, err := registry.Deserialize(ctx, payload, sc)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(v.(*wrapperspb.StringValue).GetValue())

	// Output:
	// StringValue protobuf
	// hello
}
