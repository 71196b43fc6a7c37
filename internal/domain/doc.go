// Package domain holds the core data types for the programs scheduling
// subsystem: CRM sync jobs, notification dedupe records, availability
// windows, session reminder integrations, and cohort memberships.
//
// Types here carry no behavior beyond small predicates; business logic
// lives in service packages and persistence in repository implementations.
package domain
