// Package app provides the Application Composition Layer for the
// reservation engine.
//
// # Architecture Role
//
// The app package sits above the core layers (domain, storage, services)
// and is responsible for composing them into a running application. It is
// NOT a business logic layer - business logic belongs in
// internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── reservation/    # Reservations, priorities, strategies, conflicts
//	│   ├── allocation/     # Allocations, fulfillment, logistics
//	│   ├── order/          # Order line items
//	│   ├── stock/          # Stock level snapshots
//	│   └── warehouse/      # Warehouse master data and coordinates
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store, StockLedger, LineItemSource, ...
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic services
//	│   ├── reservation/    # Reserve, confirm, cancel, sweep, escalate
//	│   ├── allocation/     # Allocation strategies and fulfillment
//	│   └── scoring/        # Warehouse suitability scoring
//	├── httpapi/            # HTTP API handlers, routing, audit trail
//	├── system/             # Service lifecycle management
//	├── metrics/            # Application metrics
//	└── runtime/            # Process assembly: config, db, server
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services from internal/app/services/ with their dependencies
//   - Defining storage interfaces that services depend on
//   - Providing domain models shared across services
//   - Exposing HTTP API endpoints for external access
//   - Managing application-level concerns (metrics, system status)
//
// # Dependency Direction
//
// The dependency flow is:
//
//	cmd/engine/
//	      │
//	      ▼
//	internal/app/runtime/ (process assembly)
//	      │
//	      ├──► internal/app/ (composition)
//	      │           │
//	      │           ├──► internal/app/services/ (business logic)
//	      │           │           │
//	      │           │           └──► internal/app/storage/ (interfaces)
//	      │           │
//	      │           └──► internal/app/system/ (lifecycle)
//	      │
//	      ├──► internal/adapters/ (external read sources)
//	      │
//	      └──► internal/middleware/ (HTTP cross-cutting concerns)
//
// Services never import adapters; they see only the interfaces declared in
// internal/app/storage/. The runtime decides which concrete source backs
// each interface.
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "returns"):
//
//  1. Create domain models in internal/app/domain/returns/
//  2. Add storage interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/postgres/ and memory/
//  4. Create service in internal/app/services/returns/service.go
//  5. Wire service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/handler.go
package app
