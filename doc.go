/*
Package eventschema governs the schemas of event payloads written to and read from an event store.

It keeps a bijection between schema names and Go types, registers or validates the schema of every
type against a schema registry and caches, per type, the registry versions confirmed compatible so
the registry is only consulted until a type is known.

# Features
  - Register-or-reuse of schemas with bounded retries on registration races
  - Compatibility checks by version id (records of schema-aware writers) or by schema name
  - Json, Protobuf and Avro codecs, raw byte payloads pass through untouched
  - Lazily decoded records, link records decode to their string form
  - In-memory and Confluent compatible registry clients

Schema identity travels in the record metadata under the keys

	$schema.name         schema name
	$schema.data-format  json, protobuf, avro or bytes
	$schema.version-id   registry version id

Schema registry API : https://docs.confluent.io/platform/current/schema-registry/develop/api.html

Avro: http://avro.apache.org/docs/current/

Protobuf: https://protobuf.dev/programming-guides/encoding/
*/

package eventschema
