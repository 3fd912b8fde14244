// Package optica is a multi-agent fabric for a retail eyewear store built on the
// Agent-to-Agent (A2A) protocol.
//
// A Host Router owns the user-facing chat session and, driven by a reasoning
// engine, dispatches work to remote agents over JSON-RPC:
//
//   - the Consultation Agent answers technical and style questions from a
//     document corpus;
//   - the Search Agent finds products by text and image similarity;
//   - the Order Agent looks up products and users and places orders.
//
// # Quick Start
//
// Start the agents and the host with the built-in configuration:
//
//	optica agent consultation &
//	optica agent search &
//	optica agent order &
//	REASONING_API_KEY=... optica host
//
// Then talk to the host:
//
//	curl -d message="tìm kính đen" http://localhost:8000/chat
//
// # Packages
//
//   - pkg/a2a: protocol types, canonical codec and JSON-RPC envelopes
//   - pkg/server, pkg/transport: the agent server framework and its HTTP binding
//   - pkg/task, pkg/push: task persistence, event queues and push notifications
//   - pkg/remoteagent: the client-side connector to one remote agent
//   - pkg/host, pkg/session, pkg/reasoning: the Host Router
//   - pkg/agents: the consultation, search and order agents
//
// See the cmd/optica directory for the command-line entry point.
package optica
