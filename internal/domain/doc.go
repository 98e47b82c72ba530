// Package domain models lightning strike data and device alerting commands.
//
// # Data Source
//
// Strike reports originate from the NEA real-time lightning observations
// feed (api-open.data.gov.sg). The upstream collector polls the API on a
// 30-second cycle and publishes each reading as flat JSON to the Kafka
// source topic. Consecutive polls overlap, so the same physical strike is
// delivered more than once; deduplication relies on deterministic strike IDs.
//
// # Feed Conventions
//
// Coordinates arrive as strings ("1.3521", "103.8198") and must be parsed.
// Readings with missing or unparsable coordinates are malformed and skipped.
//
// Strike types:
//
//	"G" is a ground strike (cloud-to-ground)
//	"C" is a cloud-to-cloud strike
//	Unknown codes are preserved as-is on the event.
//
// The service area is the Singapore bounding box (lat 0.95–1.75,
// lon 103.27–104.52). Strikes outside the box are logged but still
// processed; the upstream feed occasionally reports offshore strikes that
// are still relevant to coastal devices.
//
// # ID Generation
//
// Strike IDs are deterministic SHA-256 hashes of rounded coordinates,
// occurrence time, and type. Re-polling the same upstream reading yields
// the same ID, which is the sole deduplication key. See [StrikeID].
package domain
