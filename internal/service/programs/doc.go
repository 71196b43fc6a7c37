// Package programs implements the scheduling core of the mentorship
// programs feature: the CRM sync job queue, the reminder dispatcher, the
// availability matcher, the cohort transition job, and KPI aggregation.
//
// The package depends only on the Repository and Gateway interfaces
// defined here and should never import from api/ or worker/. Repository
// implementations live in repository/postgres/ and repository/memory/.
package programs
