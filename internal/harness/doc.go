// Package harness replays sampling scenarios against the engine and checks
// the resulting event and trace logs.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	run:
//	  seed: 42
//	  parameter_hash: <64 hex>
//	  manifest_fingerprint: <64 hex>
//	sampling:
//	  overrides:
//	    1A.gumbel_foreign: { log_all_candidates: true }
//	weights:
//	  groups: { "2024-03-01": [{ id: Europe/Berlin, weight: 0.6 }] }
//	  sites:  { Europe/Berlin: [{ id: 10, weight: 1 }] }
//	flow:
//	  - op: hurdle
//	    merchant_id: 7
//	    p: 0.5
//	    expect: { is_multi: true }
//	  - op: select_countries
//	    merchant_id: 7
//	    k: 1
//	    candidates: [{ id: A, weight: 0.7 }, { id: B, weight: 0.3 }]
//	    expect: { countries: [B] }
//	assertions:
//	  - type: event_count
//	    module: 1A.hurdle
//	    count: 1
//	  - type: verify
//	  - type: replay_digest
//
// # Operations
//
//   - hurdle: engine.Run.Hurdle
//   - select_countries: engine.Run.SelectCountries
//   - select_countries_batch: engine.Run.SelectCountriesBatch
//   - jitter: engine.Run.Jitter
//   - route: engine.Run.Route
//
// A step may set error: <code> to expect a failure with that error code.
//
// # Assertion Types
//
//   - event_count: number of events, optionally for one module
//   - trace_totals: final draws, blocks and events of one substream
//   - verify: the logs pass recorder.Verify
//   - run_complete: the SQLite index holds the audit row and every event
//   - replay_digest: a second execution yields identical digests
//
// # Deterministic Testing
//
// Every scenario runs with a step clock, a fixed run id (unless the
// scenario names one) and a fresh in-memory SQLite index, so the logs are
// byte-identical across runs and can be compared against golden files.
package harness
