// Package sim provides the discrete-time simulation kernel for a warehouse
// floor: agents pick work orders from a master plan and deliver them to
// staging points while sharing single-occupancy aisle cells.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - workorder.go: WorkOrder lifecycle (pending → assigned → picking → picked → staged)
//   - agent.go: the per-agent state machine (idle, moving, picking, lifting, unloading)
//   - simulator.go: the event loop, agent placement, staging selection and run end
//
// # Architecture
//
// The sim package owns all mutable run state; the sub-packages are pure or
// single-purpose:
//   - sim/layout/: the immutable grid, typed points and pixel conversion
//   - sim/pathfind/: 8-directional A* with an octile heuristic
//   - sim/lanes/: the cell → agent reservation table
//   - sim/eventlog/: the JSON event stream, its sinks, reader and schema
//   - sim/replay/: playback of a recorded stream
//   - sim/stream/: live fan-out of the stream over websockets
//   - sim/trace/: optional dispatch decision trace and its summary
//   - sim/workload/: seeded generation of synthetic master plans
//
// # Determinism
//
// One tick advances virtual time by TimingConfig.TickSeconds. Agents are
// stepped in ID order and every random draw comes from a PartitionedRNG
// seeded by KernelConfig.Seed, so a (seed, layout, plan, config) tuple
// always produces the same event log. Headless and visual runs differ only
// in whether a render hook observes each tick and whether the loop sleeps.
package sim
