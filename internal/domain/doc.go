// Package domain models current-weather observations ingested from the
// Open-Meteo forecast API.
//
// # Data Source
//
// One batched GET against https://api.open-meteo.com/v1/forecast carries
// comma-joined latitude/longitude lists for every active city plus a fixed
// set of current-weather metrics (temperature_2m, relative_humidity_2m,
// precipitation, wind_speed_10m) in metric units with timezone=auto.
//
// # Positional Pairing
//
// The provider answers with a single object for one requested location and a
// JSON array for several. The i-th array element describes the i-th location
// of the request; there is no identifier in the response that ties an item
// back to a city, so request order must be deterministic (cities ordered by
// id ascending) and the pairing is truncated to the shorter of the two sides
// when the lengths disagree.
//
// # Timestamps
//
// current.time is a local ISO-8601 timestamp, usually minute precision with
// no zone designator ("2024-04-26T15:10"). utc_offset_seconds carries the
// location's UTC offset. Zone-aware timestamps are converted to UTC
// directly; naive ones have the reported offset subtracted. Stored times are
// always UTC with the zone dropped.
//
// # Optional Measurements
//
// Every measurement field is independently optional. A missing, null, or
// malformed value degrades to absent rather than failing the item; only the
// required fields (utc_offset_seconds, current.time) make an item
// structurally invalid.
//
// # Content Hashing
//
// Every archived payload gets a sha256 hex digest of its exact bytes. The
// hash identifies identical re-fetches during audit and replay; it does not
// drive deduplication. Idempotency comes from the (city_id, observed_at_utc)
// key and ON CONFLICT DO NOTHING on insert.
package domain
