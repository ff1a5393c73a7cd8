// Package secret resolves credentials referenced from configuration.
//
// Configuration values may contain two kinds of references:
//
//	${NAME}              an environment variable; ${NAME:-fallback} supplies a default
//	secretref:<p>:<ref>  a value held by provider p, e.g. secretref:file:redis-password
//
// A reference may be the whole value or embedded in it, as in
// "redis://:secretref:env:REDIS_PASSWORD@cache:6379/0". "$$" is a literal
// dollar sign. The env and file providers are built in; others register a
// Factory with a Registry.
package secret
