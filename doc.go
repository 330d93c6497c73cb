// Package tenantsync implements a multi-tenant SaaS security sync and
// analysis pipeline.
//
// # Pipeline
//
// Sync jobs pull users, groups, licenses, policies, devices and companies
// from provider APIs through cursor-paginated connectors. Each batch flows
// through a fixed set of stages connected by NATS subjects, where the subject
// names the stage a batch has just reached:
//
//	jobs.sync.*  →  fetched.<type>  →  processed.<type>  →  linked.<type>
//	                                                            ↓
//	            alerts + entity state  ←  analysis.findings.*  ←  analyzers
//
//   - fetch: rate-limited resumable page fetches, content hashing, exactly
//     one continuation job per non-final page
//   - process: hash-based change detection and per-type normalization into
//     canonical fields
//   - link: relationship derivation (membership, license holds, policy
//     coverage, device ownership) with typed endpoint validation
//   - analysis: parallel analyzers over the tenant graph producing findings,
//     tags and proposed health states
//   - alerting: debounced reconciliation of findings into persisted alerts
//     and alert-derived entity health
//
// Entities, relationships and alerts persist in JetStream key-value buckets
// keyed for tenant- and data-source-scoped bulk reads. Jobs run on a durable
// JetStream work queue with priority subjects and classified-error retry.
//
// Every stage is a small handler behind a generic runner that owns
// subscription, decoding, bounded worker dispatch, metrics and failure
// events. Provider-specific API clients live outside this module; they
// implement fetch.Connector and register adapters with the fetch registry.
package tenantsync
