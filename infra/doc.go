// Package infra holds the adapters behind the core interfaces: the MQTT
// subscriber, the SQLite and PostgreSQL stores, metrics sinks, dead letters
// and Sentry monitoring. Core packages never import infra.
package infra
