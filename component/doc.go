// Package component defines the lifecycle contract for long-lived engine
// resources such as scheduler pools and telemetry providers.
//
// Components are registered with a Registry, started in registration order
// and stopped in reverse order by the bootstrap package.
//
// # Interfaces
//
//   - Component: lifecycle interface (Name/Start/Stop/Health)
//   - Func: adapter building a Component from plain functions
package component
