// Package verification implements job and result lifecycle management.
//
// The service layer owns the business rules around verification jobs:
// creating and enqueueing them, recording per-address results exactly once,
// and advancing progress monotonically. It depends on repository interfaces
// defined in this package and should never import from api/.
//
// Repository implementations live in repository/postgres/.
package verification
