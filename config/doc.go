// Package config loads engine configuration from YAML and builds a
// running engine from it.
//
// String values may reference the environment as ${NAME} or
// ${NAME:-default}, and secrets as secretref:<provider>:<ref>. Secret
// providers are configured under the secrets key:
//
//	secrets:
//	  file: {dir: /run/secrets}
//	cache:
//	  redis:
//	    enabled: true
//	    addr: ${REDIS_ADDR:-localhost:6379}
//	    password: secretref:file:redis-password
//
// Build opens the enabled cache tiers in level order (memory, redis,
// sqlite), wires telemetry and registers health checks for every tier
// and circuit.
package config
