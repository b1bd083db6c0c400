// Package model defines the model-client collaborator contract consumed by
// the runner: a normalized request/response shape, tool definitions exposed
// to the model, a token counting capability and a typed error taxonomy.
// Vendor adapters live in the subpackages (openai, anthropic) and classify
// provider errors into the taxonomy at the boundary so the runner never
// inspects raw vendor payloads.
package model
