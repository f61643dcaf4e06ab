/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/tryfix/eventschema"
	"github.com/tryfix/log"
)

type OrderPlaced struct {
	OrderID  string    `json:"order_id"`
	Amount   float64   `json:"amount"`
	PlacedAt time.Time `json:"placed_at"`
}

func main() {
	logger := log.NewLog().Log(log.WithLevel(log.TRACE))

	// in-memory registry, use eventschema.NewConfluentRegistry for a real one
	registry, err := eventschema.NewRegistry(eventschema.NewLocalRegistry(),
		eventschema.WithLogger(logger),
		eventschema.WithNamingStrategy(eventschema.CategoryStrategy{}),
	)
	if err != nil {
		log.Fatal(err)
	}

	if err := registry.Map(`order-OrderPlaced`, OrderPlaced{}); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := registry.WarmUp(ctx, eventschema.DataFormatJson); err != nil {
		log.Fatal(err)
	}

	sc := &eventschema.SerializationContext{Stream: `order-1234`}
	payload, err := registry.Serialize(ctx, eventschema.DataFormatJson, OrderPlaced{
		OrderID:  `1234`,
		Amount:   99.5,
		PlacedAt: time.Now(),
	}, sc)
	if err != nil {
		log.Fatal(err)
	}

	record := registry.NewRecord(sc.Stream, payload, sc.Metadata)
	if err := record.Decode(ctx); err != nil {
		log.Fatal(err)
	}

	log.Info(fmt.Sprintf(`decoded %+v with metadata [%s]`, record.Value, record.Metadata))

	registry.Print()
}
